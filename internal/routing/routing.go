// Package routing decides which records a rule may be evaluated against.
//
// Routing is resolved once per rule at load time into a Route. Groups with a
// fixed policy map straight to a Route. The positive_behaviors,
// risk_amplification and early_warnings groups branch on variable names
// appearing as substrings of the condition text, in table order. Rules with
// an unknown or missing group fall back to the aggregate-only variable set.
package routing

import (
	"strings"

	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/schema"
)

// Route is the record requirement of a rule.
type Route struct {
	// RecordType the record must have; empty matches any type.
	RecordType domain.RecordType `json:"record_type,omitempty"`

	// RequireRevolving restricts the rule to credit card and overdraft facilities.
	RequireRevolving bool `json:"require_revolving"`

	// Reason names the table entry that produced the route.
	Reason string `json:"reason"`
}

// Applies reports whether a record of the given shape satisfies the route.
func (r Route) Applies(recordType domain.RecordType, isRevolving bool) bool {
	if r.RecordType != "" && r.RecordType != recordType {
		return false
	}
	if r.RequireRevolving && !isRevolving {
		return false
	}
	return true
}

// Branch routes a rule when every listed substring occurs in its condition.
type Branch struct {
	AllOf []string
	Route Route
}

// Policy is the routing policy of one rule group.
type Policy struct {
	Branches []Branch
	Default  Route
}

func loanOnly(reason string) Route {
	return Route{RecordType: domain.RecordLoan, Reason: reason}
}

func aggregateOnly(reason string) Route {
	return Route{RecordType: domain.RecordAggregate, Reason: reason}
}

func revolvingLoan(reason string) Route {
	return Route{RecordType: domain.RecordLoan, RequireRevolving: true, Reason: reason}
}

// DefaultTable is the routing policy per rule group.
func DefaultTable() map[domain.RuleGroup]Policy {
	return map[domain.RuleGroup]Policy{
		domain.GroupUtilization:        {Default: revolvingLoan("utilization")},
		domain.GroupPaymentConduct:     {Default: loanOnly("payment_conduct")},
		domain.GroupCreditApplications: {Default: aggregateOnly("credit_applications")},
		domain.GroupCreditProfile:      {Default: aggregateOnly("credit_profile")},
		domain.GroupLegalFinancial:     {Default: aggregateOnly("legal_financial")},
		domain.GroupPortfolioHealth:    {Default: aggregateOnly("portfolio_health")},

		domain.GroupPositiveBehaviors: {
			Branches: []Branch{
				{AllOf: []string{"payment_conduct_all_zero"}, Route: loanOnly("positive_behaviors/payment_history")},
				{AllOf: []string{"payment_conduct_code"}, Route: loanOnly("positive_behaviors/payment_history")},
				{AllOf: []string{"utilization"}, Route: revolvingLoan("positive_behaviors/utilization")},
				{AllOf: []string{"ctos_score"}, Route: aggregateOnly("positive_behaviors/score")},
				{AllOf: []string{"oldest_account"}, Route: aggregateOnly("positive_behaviors/portfolio")},
				{AllOf: []string{"numapplications"}, Route: aggregateOnly("positive_behaviors/portfolio")},
				{AllOf: []string{"numberofloans"}, Route: aggregateOnly("positive_behaviors/portfolio")},
				{AllOf: []string{"distinct_account_types"}, Route: aggregateOnly("positive_behaviors/portfolio")},
			},
			Default: aggregateOnly("positive_behaviors/default"),
		},

		domain.GroupRiskAmplification: {
			Branches: []Branch{
				{AllOf: []string{"utilization", "payment_conduct"}, Route: revolvingLoan("risk_amplification/utilization_payment")},
				{AllOf: []string{"utilization", "numapplications"}, Route: aggregateOnly("risk_amplification/utilization_applications")},
				{AllOf: []string{"legal_cases_active"}, Route: aggregateOnly("risk_amplification/legal_active")},
			},
			Default: aggregateOnly("risk_amplification/default"),
		},

		domain.GroupEarlyWarnings: {
			Branches: []Branch{
				{AllOf: []string{"ctos_score"}, Route: aggregateOnly("early_warnings/score")},
				{AllOf: []string{"utilization"}, Route: Route{RequireRevolving: true, Reason: "early_warnings/utilization"}},
				{AllOf: []string{"numapplications"}, Route: aggregateOnly("early_warnings/applications")},
				{AllOf: []string{"payment_conduct_code", "oldest_account_months"}, Route: loanOnly("early_warnings/payment_age")},
			},
			Default: loanOnly("early_warnings/default"),
		},
	}
}

// Resolver computes routes for rules.
type Resolver struct {
	table         map[domain.RuleGroup]Policy
	aggregateVars []string
}

// NewResolver creates a resolver using the default table and the schema's
// aggregate-only variables for the fallback.
func NewResolver(s *schema.Schema) *Resolver {
	return &Resolver{
		table:         DefaultTable(),
		aggregateVars: s.AggregateOnlyVariables(),
	}
}

// Route resolves the record requirement of a rule.
func (r *Resolver) Route(rule domain.Rule) Route {
	policy, ok := r.table[rule.Group]
	if !ok {
		return r.fallback(rule.Condition)
	}
	for _, b := range policy.Branches {
		if containsAll(rule.Condition, b.AllOf) {
			return b.Route
		}
	}
	return policy.Default
}

// Applies reports whether rule should be evaluated against a record of the
// given type and facility subtype.
func (r *Resolver) Applies(rule domain.Rule, recordType domain.RecordType, isRevolving bool) bool {
	return r.Route(rule).Applies(recordType, isRevolving)
}

func (r *Resolver) fallback(condition string) Route {
	for _, v := range r.aggregateVars {
		if strings.Contains(condition, v) {
			return aggregateOnly("fallback/" + v)
		}
	}
	return loanOnly("fallback/default")
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
