// Package normalize builds the record set the rule engine consumes from
// facts extracted out of a bureau report.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/render"
	"github.com/opensource-finance/creditsight/internal/schema"
)

// maxConductCode caps a monthly arrears count when deriving conduct codes.
const maxConductCode = 8

// conductWindow is the number of monthly positions considered.
const conductWindow = 12

// Extracted is the output of the report extraction layer.
type Extracted struct {
	Name                string           `json:"name"`
	ICNumber            string           `json:"ic_number"`
	CTOSScore           int              `json:"ctos_score"`
	Applications        int              `json:"numapplicationslast12months"`
	PendingApplications int              `json:"numpendingapplications"`
	Loans               []Loan           `json:"loans"`
	TradeReferences     []TradeReference `json:"trade_references"`
	LegalCases          []LegalCase      `json:"legal_cases"`
	DirectorWindingUp   []WindingUp      `json:"director_winding_up"`
}

// Loan is one credit facility.
type Loan struct {
	FacilityType string  `json:"facility_type"`
	Lender       string  `json:"lender"`
	Balance      float64 `json:"balance"`
	Limit        float64 `json:"limit"`
	DateOpened   string  `json:"date_opened"`

	// ConductCodes are monthly instalment arrears, most recent first.
	ConductCodes []int `json:"conduct_codes"`

	SpecialAttention bool `json:"is_special_attention"`
}

// TradeReference is one trade creditor entry.
type TradeReference struct {
	Account     string  `json:"account"`
	Amount      float64 `json:"amount"`
	AgingBucket string  `json:"aging_bucket"`
}

// LegalCase is one court record.
type LegalCase struct {
	CaseType  string  `json:"case_type"`
	Amount    float64 `json:"amount"`
	Plaintiff string  `json:"plaintiff"`
	Settled   bool    `json:"is_settled"`
}

// WindingUp is a winding-up action against a company the subject directs.
type WindingUp struct {
	CompanyName string `json:"company_name"`
	Status      string `json:"status"`
	Active      bool   `json:"is_active"`
}

// Normalizer converts extracted facts into records.
type Normalizer struct {
	schema *schema.Schema
	now    func() time.Time
}

// New creates a normalizer over the given schema.
func New(s *schema.Schema) *Normalizer {
	return &Normalizer{schema: s, now: time.Now}
}

// Normalize returns one record per loan followed by the aggregate record.
func (n *Normalizer) Normalize(ex *Extracted) *domain.NormalizedReport {
	records := make([]domain.Record, 0, len(ex.Loans)+1)
	for _, loan := range ex.Loans {
		records = append(records, n.loanRecord(loan))
	}
	records = append(records, n.aggregateRecord(ex))

	slog.Info("normalized report",
		"loans", len(ex.Loans),
		"trade_references", len(ex.TradeReferences),
		"legal_cases", len(ex.LegalCases),
	)

	return &domain.NormalizedReport{
		Records: records,
		PersonalInfo: map[string]any{
			"name":       ex.Name,
			"ic_number":  ex.ICNumber,
			"ctos_score": ex.CTOSScore,
		},
	}
}

func (n *Normalizer) loanRecord(loan Loan) domain.Record {
	revolving := n.schema.IsRevolvingFacility(loan.FacilityType)
	code, allZero := conduct(loan.ConductCodes)

	utilization := 0.0
	if revolving && loan.Limit > 0 {
		utilization = loan.Balance / loan.Limit * 100
	}
	accountType := "installment"
	if revolving {
		accountType = "revolving"
	}
	lender := loan.Lender
	if lender == "" {
		lender = "Unknown"
	}

	return domain.Record{
		"facility_type":            loan.FacilityType,
		"loantype":                 n.schema.FacilityName(loan.FacilityType),
		"lendertype":               lender,
		"balance":                  loan.Balance,
		"limit":                    loan.Limit,
		"creditutilizationratio":   utilization,
		"payment_conduct_code":     code,
		"payment_conduct_all_zero": allZero,
		"is_revolving":             revolving,
		"account_type":             accountType,
	}
}

// conduct returns the worst monthly code over the window and whether every
// month was clean. Missing months count as clean.
func conduct(codes []int) (int, bool) {
	worst, allZero := 0, true
	for i, c := range codes {
		if i == conductWindow {
			break
		}
		if c > maxConductCode {
			c = maxConductCode
		}
		if c > worst {
			worst = c
		}
		if c != 0 {
			allZero = false
		}
	}
	return worst, allZero
}

func (n *Normalizer) aggregateRecord(ex *Extracted) domain.Record {
	var (
		totalBalance, secured, revBalance, revLimit float64
		worstConduct                                int
		hasCard, hasInstalment                      bool
		lenderOrder                                 []string
	)
	lenderCounts := make(map[string]int)
	facilities := make(map[string]struct{})
	for _, loan := range ex.Loans {
		totalBalance += loan.Balance
		switch loan.FacilityType {
		case schema.FacilityHousingLoan, schema.FacilityCarLoan:
			secured += loan.Balance
		}
		if n.schema.IsRevolvingFacility(loan.FacilityType) {
			revBalance += loan.Balance
			revLimit += loan.Limit
		}
		switch loan.FacilityType {
		case schema.FacilityCreditCard:
			hasCard = true
		case schema.FacilityHousingLoan, schema.FacilityCarLoan, schema.FacilityOtherTerm:
			hasInstalment = true
		}
		if code, _ := conduct(loan.ConductCodes); code > worstConduct {
			worstConduct = code
		}

		lender := loan.Lender
		if lender == "" {
			lender = "Unknown"
		}
		if lenderCounts[lender] == 0 {
			lenderOrder = append(lenderOrder, lender)
		}
		lenderCounts[lender]++
		facilities[loan.FacilityType] = struct{}{}
	}

	accountsPerLender, lenderName := 0, ""
	for _, l := range lenderOrder {
		if lenderCounts[l] > accountsPerLender {
			accountsPerLender, lenderName = lenderCounts[l], l
		}
	}

	securedRatio := 0.0
	if totalBalance > 0 {
		securedRatio = secured / totalBalance * 100
	}
	utilization := 0.0
	if revLimit > 0 {
		utilization = revBalance / revLimit * 100
	}

	overdue := 0.0
	aging := "None"
	for _, ref := range ex.TradeReferences {
		overdue += ref.Amount
		if aging == "None" && ref.AgingBucket != "" && ref.AgingBucket != "None" {
			aging = ref.AgingBucket
		}
	}

	var (
		settled, active int
		activeTypes     []string
		caseDetails     string
		bankrupt        bool
	)
	for _, c := range ex.LegalCases {
		if c.Settled {
			settled++
			continue
		}
		active++
		caseType := c.CaseType
		if caseType == "" {
			caseType = "Unknown"
		}
		activeTypes = append(activeTypes, caseType)
		if strings.Contains(strings.ToUpper(c.CaseType), "BANKRUPTCY") && !bankrupt {
			bankrupt = true
			caseDetails = fmt.Sprintf("%s - Amount: RM %s", c.CaseType, render.Money(c.Amount))
		}
	}

	windingUp, companyName := 0, ""
	for _, w := range ex.DirectorWindingUp {
		if w.Active {
			windingUp++
		}
	}
	if len(ex.DirectorWindingUp) > 0 {
		companyName = ex.DirectorWindingUp[0].CompanyName
	}

	return domain.Record{
		"numberofloans":               len(ex.Loans),
		"numapplicationslast12months": ex.Applications,
		"numpendingapplications":      ex.PendingApplications,
		"distinct_account_types":      len(facilities),
		"oldest_account_months":       n.oldestAccountMonths(ex.Loans),
		"payment_conduct_code":        worstConduct,
		"has_credit_card":             hasCard,
		"has_installment_loan":        hasInstalment,
		"creditutilizationratio":      utilization,
		"trade_ref_amount_overdue":    overdue,
		"trade_ref_reminder_count":    len(ex.TradeReferences),
		"aging_bucket":                aging,
		"legal_cases_settled":         settled,
		"legal_cases_active":          active,
		"bankruptcy_active":           bankrupt,
		"director_windingup_company":  windingUp,
		"company_name":                companyName,
		"accounts_per_lender":         accountsPerLender,
		"lender_name":                 lenderName,
		"secured_loan_ratio":          securedRatio,
		"case_types":                  strings.Join(activeTypes, ", "),
		"case_details":                caseDetails,
		"ctos_score":                  ex.CTOSScore,
	}
}

// oldestAccountMonths returns whole months since the earliest parseable
// opening date. Dates are DD-MM-YYYY; future dates are ignored.
func (n *Normalizer) oldestAccountMonths(loans []Loan) int {
	now := n.now()
	var oldest time.Time
	for _, loan := range loans {
		if loan.DateOpened == "" {
			continue
		}
		t, err := time.Parse("02-01-2006", strings.TrimSpace(loan.DateOpened))
		if err != nil {
			slog.Warn("unparseable account opening date", "date_opened", loan.DateOpened)
			continue
		}
		if t.After(now) {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return (now.Year()-oldest.Year())*12 + int(now.Month()-oldest.Month())
}

// Decode reads a report document. It accepts a normalized report, a bare
// array of records, or extracted facts (recognised by a "loans" key).
func (n *Normalizer) Decode(data []byte) (*domain.NormalizedReport, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty report document")
	}

	if data[0] == '[' {
		var records []domain.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to decode records: %w", err)
		}
		return &domain.NormalizedReport{Records: records, PersonalInfo: map[string]any{}}, nil
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	if _, ok := shape["records"]; ok {
		var report domain.NormalizedReport
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("failed to decode normalized report: %w", err)
		}
		if report.PersonalInfo == nil {
			report.PersonalInfo = map[string]any{}
		}
		return &report, nil
	}

	if _, ok := shape["loans"]; ok {
		var ex Extracted
		if err := json.Unmarshal(data, &ex); err != nil {
			return nil, fmt.Errorf("failed to decode extracted report: %w", err)
		}
		return n.Normalize(&ex), nil
	}

	// A single record.
	var record domain.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &domain.NormalizedReport{Records: []domain.Record{record}, PersonalInfo: map[string]any{}}, nil
}
