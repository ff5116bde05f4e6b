package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/schema"
)

func newNormalizer() *Normalizer {
	n := New(schema.Default())
	n.now = func() time.Time { return time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC) }
	return n
}

func sample() *Extracted {
	return &Extracted{
		Name:                "TAN AH KOW",
		ICNumber:            "800101-14-5678",
		CTOSScore:           640,
		Applications:        5,
		PendingApplications: 2,
		Loans: []Loan{
			{FacilityType: "CRDTCARD", Lender: "Maybank", Balance: 8500, Limit: 10000, DateOpened: "15-06-2020", ConductCodes: []int{0, 1, 0}},
			{FacilityType: "HSLNFNCE", Lender: "Maybank", Balance: 300000, Limit: 350000, DateOpened: "01-01-2018"},
			{FacilityType: "OTLNFNCE", Lender: "CIMB", Balance: 11500, Limit: 20000, ConductCodes: []int{12}},
		},
		TradeReferences: []TradeReference{
			{Account: "A1", Amount: 1200.5, AgingBucket: "None"},
			{Account: "A2", Amount: 300, AgingBucket: "90 days"},
		},
		LegalCases: []LegalCase{
			{CaseType: "SUMMONS", Amount: 5000},
			{CaseType: "BANKRUPTCY PETITION", Amount: 45000},
			{CaseType: "CIVIL SUIT", Settled: true},
		},
		DirectorWindingUp: []WindingUp{{CompanyName: "ACME SDN BHD", Active: true}},
	}
}

func TestNormalizeLoans(t *testing.T) {
	report := newNormalizer().Normalize(sample())
	require.Len(t, report.Records, 4)

	card := report.Records[0]
	assert.Equal(t, "Credit Card", card["loantype"])
	assert.Equal(t, "Maybank", card["lendertype"])
	assert.InDelta(t, 85.0, card["creditutilizationratio"], 0.001)
	assert.Equal(t, 1, card["payment_conduct_code"])
	assert.Equal(t, false, card["payment_conduct_all_zero"])
	assert.Equal(t, true, card["is_revolving"])
	assert.Equal(t, "revolving", card["account_type"])

	housing := report.Records[1]
	assert.Equal(t, 0.0, housing["creditutilizationratio"])
	assert.Equal(t, true, housing["payment_conduct_all_zero"])
	assert.Equal(t, "installment", housing["account_type"])

	term := report.Records[2]
	assert.Equal(t, maxConductCode, term["payment_conduct_code"])
}

func TestNormalizeAggregate(t *testing.T) {
	report := newNormalizer().Normalize(sample())
	agg := report.Records[len(report.Records)-1]

	assert.Equal(t, 3, agg["numberofloans"])
	assert.Equal(t, 5, agg["numapplicationslast12months"])
	assert.Equal(t, 3, agg["distinct_account_types"])
	assert.Equal(t, 89, agg["oldest_account_months"])
	assert.Equal(t, maxConductCode, agg["payment_conduct_code"])
	assert.Equal(t, true, agg["has_credit_card"])
	assert.Equal(t, true, agg["has_installment_loan"])
	assert.InDelta(t, 85.0, agg["creditutilizationratio"], 0.001)
	assert.InDelta(t, 1500.5, agg["trade_ref_amount_overdue"], 0.001)
	assert.Equal(t, 2, agg["trade_ref_reminder_count"])
	assert.Equal(t, "90 days", agg["aging_bucket"])
	assert.Equal(t, 1, agg["legal_cases_settled"])
	assert.Equal(t, 2, agg["legal_cases_active"])
	assert.Equal(t, true, agg["bankruptcy_active"])
	assert.Equal(t, "SUMMONS, BANKRUPTCY PETITION", agg["case_types"])
	assert.Equal(t, "BANKRUPTCY PETITION - Amount: RM 45,000.00", agg["case_details"])
	assert.Equal(t, 1, agg["director_windingup_company"])
	assert.Equal(t, "ACME SDN BHD", agg["company_name"])
	assert.Equal(t, 2, agg["accounts_per_lender"])
	assert.Equal(t, "Maybank", agg["lender_name"])
	assert.InDelta(t, 300000.0/320000.0*100, agg["secured_loan_ratio"], 0.001)
	assert.Equal(t, 640, agg["ctos_score"])

	assert.Equal(t, "TAN AH KOW", report.SubjectName())
	assert.Equal(t, 640, report.PersonalInfo["ctos_score"])
}

func TestNormalizeClassifiesRecords(t *testing.T) {
	report := newNormalizer().Normalize(sample())
	for i, r := range report.Records[:3] {
		assert.False(t, r.Has("numberofloans"), "loan record %d must not carry aggregate indicators", i)
	}
	assert.True(t, report.Records[3].Has("numberofloans"))
}

func TestNormalizeEmpty(t *testing.T) {
	report := newNormalizer().Normalize(&Extracted{})
	require.Len(t, report.Records, 1)
	agg := report.Records[0]
	assert.Equal(t, 0, agg["numberofloans"])
	assert.Equal(t, 0, agg["oldest_account_months"])
	assert.Equal(t, "", agg["lender_name"])
	assert.Equal(t, 0.0, agg["secured_loan_ratio"])
}

func TestOldestAccountIgnoresBadDates(t *testing.T) {
	n := newNormalizer()
	loans := []Loan{
		{DateOpened: "not-a-date"},
		{DateOpened: "01-01-2030"},
		{DateOpened: "15-03-2024"},
	}
	assert.Equal(t, 15, n.oldestAccountMonths(loans))
}

func TestConduct(t *testing.T) {
	code, clean := conduct(nil)
	assert.Equal(t, 0, code)
	assert.True(t, clean)

	codes := make([]int, 14)
	codes[13] = 5
	code, clean = conduct(codes)
	assert.Equal(t, 0, code, "months beyond the window are ignored")
	assert.True(t, clean)
}

func TestDecode(t *testing.T) {
	n := newNormalizer()

	t.Run("normalized", func(t *testing.T) {
		r, err := n.Decode([]byte(`{"records":[{"facility_type":"CRDTCARD"},{"numberofloans":1}],"personal_info":{"name":"A"}}`))
		require.NoError(t, err)
		assert.Len(t, r.Records, 2)
		assert.Equal(t, "A", r.SubjectName())
	})

	t.Run("bare array", func(t *testing.T) {
		r, err := n.Decode([]byte(` [{"facility_type":"CRDTCARD"}]`))
		require.NoError(t, err)
		assert.Len(t, r.Records, 1)
		assert.NotNil(t, r.PersonalInfo)
	})

	t.Run("extracted", func(t *testing.T) {
		r, err := n.Decode([]byte(`{"name":"B","ctos_score":700,"loans":[{"facility_type":"OVRDRAFT","balance":100,"limit":1000}]}`))
		require.NoError(t, err)
		require.Len(t, r.Records, 2)
		assert.InDelta(t, 10.0, r.Records[0]["creditutilizationratio"], 0.001)
	})

	t.Run("single record", func(t *testing.T) {
		r, err := n.Decode([]byte(`{"numberofloans":2}`))
		require.NoError(t, err)
		require.Len(t, r.Records, 1)
		assert.Equal(t, domain.Record{"numberofloans": 2.0}, r.Records[0])
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := n.Decode([]byte(`   `))
		assert.Error(t, err)
		_, err = n.Decode([]byte(`{"records": 5}`))
		assert.Error(t, err)
	})
}
