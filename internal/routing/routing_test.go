package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/schema"
)

type shape struct {
	recordType domain.RecordType
	revolving  bool
}

var (
	revolvingLoanRec   = shape{domain.RecordLoan, true}
	installmentLoanRec = shape{domain.RecordLoan, false}
	aggregateRec       = shape{domain.RecordAggregate, false}
)

func TestFixedGroups(t *testing.T) {
	r := NewResolver(schema.Default())

	cases := []struct {
		group domain.RuleGroup
		want  map[shape]bool
	}{
		{domain.GroupUtilization, map[shape]bool{revolvingLoanRec: true, installmentLoanRec: false, aggregateRec: false}},
		{domain.GroupPaymentConduct, map[shape]bool{revolvingLoanRec: true, installmentLoanRec: true, aggregateRec: false}},
		{domain.GroupCreditApplications, map[shape]bool{revolvingLoanRec: false, installmentLoanRec: false, aggregateRec: true}},
		{domain.GroupCreditProfile, map[shape]bool{revolvingLoanRec: false, installmentLoanRec: false, aggregateRec: true}},
		{domain.GroupLegalFinancial, map[shape]bool{revolvingLoanRec: false, installmentLoanRec: false, aggregateRec: true}},
		{domain.GroupPortfolioHealth, map[shape]bool{revolvingLoanRec: false, installmentLoanRec: false, aggregateRec: true}},
	}

	for _, tc := range cases {
		t.Run(string(tc.group), func(t *testing.T) {
			rule := domain.Rule{ID: "r", Group: tc.group, Condition: "payment_conduct_code >= 3 or ctos_score < 500"}
			for s, want := range tc.want {
				assert.Equal(t, want, r.Applies(rule, s.recordType, s.revolving), "%+v", s)
			}
		})
	}
}

func TestUtilizationNeverAppliesOutsideRevolvingLoans(t *testing.T) {
	s := schema.Default()
	r := NewResolver(s)
	rule := domain.Rule{Group: domain.GroupUtilization, Condition: "creditutilizationratio > 80"}

	codes := []string{"CRDTCARD", "OVRDRAFT", "HSLNFNCE", "PCPASCAR", "OTLNFNCE", "MICROEFN", "BUYNPAYL", ""}
	for _, code := range codes {
		for _, rt := range []domain.RecordType{domain.RecordLoan, domain.RecordAggregate} {
			got := r.Applies(rule, rt, s.IsRevolvingFacility(code))
			want := rt == domain.RecordLoan && (code == "CRDTCARD" || code == "OVRDRAFT")
			assert.Equal(t, want, got, "code=%s type=%s", code, rt)
		}
	}
}

func TestBranchingGroups(t *testing.T) {
	r := NewResolver(schema.Default())

	cases := []struct {
		name      string
		group     domain.RuleGroup
		condition string
		want      Route
	}{
		{"positive payment history", domain.GroupPositiveBehaviors, "payment_conduct_all_zero == true",
			Route{RecordType: domain.RecordLoan, Reason: "positive_behaviors/payment_history"}},
		{"positive conduct code", domain.GroupPositiveBehaviors, "payment_conduct_code == 0 and balance > 0",
			Route{RecordType: domain.RecordLoan, Reason: "positive_behaviors/payment_history"}},
		{"positive utilization", domain.GroupPositiveBehaviors, "creditutilizationratio < 30",
			Route{RecordType: domain.RecordLoan, RequireRevolving: true, Reason: "positive_behaviors/utilization"}},
		{"positive score", domain.GroupPositiveBehaviors, "ctos_score >= 700",
			Route{RecordType: domain.RecordAggregate, Reason: "positive_behaviors/score"}},
		{"positive history length", domain.GroupPositiveBehaviors, "oldest_account_months >= 120",
			Route{RecordType: domain.RecordAggregate, Reason: "positive_behaviors/portfolio"}},
		{"positive default", domain.GroupPositiveBehaviors, "secured_loan_ratio < 50",
			Route{RecordType: domain.RecordAggregate, Reason: "positive_behaviors/default"}},

		{"amplify util + conduct", domain.GroupRiskAmplification, "creditutilizationratio > 80 and payment_conduct_code >= 2",
			Route{RecordType: domain.RecordLoan, RequireRevolving: true, Reason: "risk_amplification/utilization_payment"}},
		{"amplify util + applications", domain.GroupRiskAmplification, "creditutilizationratio > 70 and numapplicationslast12months > 5",
			Route{RecordType: domain.RecordAggregate, Reason: "risk_amplification/utilization_applications"}},
		{"amplify legal", domain.GroupRiskAmplification, "legal_cases_active > 0 and numberofloans > 3",
			Route{RecordType: domain.RecordAggregate, Reason: "risk_amplification/legal_active"}},
		{"amplify default", domain.GroupRiskAmplification, "trade_ref_amount_overdue > 0",
			Route{RecordType: domain.RecordAggregate, Reason: "risk_amplification/default"}},

		{"warning score", domain.GroupEarlyWarnings, "ctos_score < 600 and creditutilizationratio > 50",
			Route{RecordType: domain.RecordAggregate, Reason: "early_warnings/score"}},
		{"warning utilization", domain.GroupEarlyWarnings, "creditutilizationratio between 60 and 80",
			Route{RequireRevolving: true, Reason: "early_warnings/utilization"}},
		{"warning applications", domain.GroupEarlyWarnings, "numpendingapplications > 0 and numapplicationslast12months > 2",
			Route{RecordType: domain.RecordAggregate, Reason: "early_warnings/applications"}},
		{"warning payment age", domain.GroupEarlyWarnings, "payment_conduct_code >= 1 and oldest_account_months < 24",
			Route{RecordType: domain.RecordLoan, Reason: "early_warnings/payment_age"}},
		{"warning default", domain.GroupEarlyWarnings, "payment_conduct_code == 1",
			Route{RecordType: domain.RecordLoan, Reason: "early_warnings/default"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Route(domain.Rule{Group: tc.group, Condition: tc.condition})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEarlyWarningUtilizationChecksRevolvingOnly(t *testing.T) {
	r := NewResolver(schema.Default())
	rule := domain.Rule{Group: domain.GroupEarlyWarnings, Condition: "creditutilizationratio > 60"}

	assert.True(t, r.Applies(rule, domain.RecordLoan, true))
	assert.False(t, r.Applies(rule, domain.RecordLoan, false))
	assert.False(t, r.Applies(rule, domain.RecordAggregate, false))
}

func TestUnknownGroupFallback(t *testing.T) {
	r := NewResolver(schema.Default())

	agg := r.Route(domain.Rule{Group: "mystery", Condition: "legal_cases_settled > 0"})
	assert.Equal(t, domain.RecordAggregate, agg.RecordType)

	missing := r.Route(domain.Rule{Condition: "numberofloans > 10"})
	assert.Equal(t, domain.RecordAggregate, missing.RecordType)

	loan := r.Route(domain.Rule{Group: "", Condition: "balance > 1000"})
	assert.Equal(t, Route{RecordType: domain.RecordLoan, Reason: "fallback/default"}, loan)
}
