package domain

import (
	"strings"
	"time"
)

// RuleGroup is the declared category used to route a rule to record types.
type RuleGroup string

const (
	GroupUtilization        RuleGroup = "utilization"
	GroupPaymentConduct     RuleGroup = "payment_conduct"
	GroupCreditApplications RuleGroup = "credit_applications"
	GroupCreditProfile      RuleGroup = "credit_profile"
	GroupLegalFinancial     RuleGroup = "legal_financial"
	GroupPortfolioHealth    RuleGroup = "portfolio_health"
	GroupPositiveBehaviors  RuleGroup = "positive_behaviors"
	GroupRiskAmplification  RuleGroup = "risk_amplification"
	GroupEarlyWarnings      RuleGroup = "early_warnings"
)

// KnownGroups lists every group in the fixed enumeration.
var KnownGroups = []RuleGroup{
	GroupUtilization,
	GroupPaymentConduct,
	GroupCreditApplications,
	GroupCreditProfile,
	GroupLegalFinancial,
	GroupPortfolioHealth,
	GroupPositiveBehaviors,
	GroupRiskAmplification,
	GroupEarlyWarnings,
}

// IsKnown reports whether g belongs to the fixed enumeration.
func (g RuleGroup) IsKnown() bool {
	for _, k := range KnownGroups {
		if g == k {
			return true
		}
	}
	return false
}

// Severity is the insight severity derived from a rule priority.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityPositive Severity = "positive"
)

// Severities lists all buckets in rank order.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityPositive,
}

// Rank returns the display rank of a severity, lower first.
// Unknown severities sort after every known one.
func (s Severity) Rank() int {
	for i, k := range Severities {
		if s == k {
			return i
		}
	}
	return len(Severities)
}

// SeverityFromPriority maps a rule priority to a severity.
// Matching is case-insensitive; anything unrecognised maps to medium.
func SeverityFromPriority(priority string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(priority))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	case SeverityPositive:
		return SeverityPositive
	default:
		return SeverityMedium
	}
}

// Rule is a declarative insight rule. Rules are immutable once loaded.
type Rule struct {
	ID             string    `json:"id" yaml:"id"`
	Label          string    `json:"label" yaml:"label"`
	Group          RuleGroup `json:"group" yaml:"group"`
	Condition      string    `json:"condition" yaml:"condition"`
	Template       string    `json:"template" yaml:"template"`
	Recommendation string    `json:"recommendation" yaml:"recommendation"`
	Priority       string    `json:"priority" yaml:"priority"`
	DataSource     string    `json:"data_source" yaml:"data_source"`
	CompoundType   string    `json:"compound_type" yaml:"compound_type"`
	ImpactScore    float64   `json:"impact_score,omitempty" yaml:"impact_score,omitempty"`
}

// RuleSet is a versioned collection of rules as stored per tenant.
type RuleSet struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Version   string    `json:"version"`
	Rules     []Rule    `json:"rules"`
	CreatedAt time.Time `json:"createdAt"`
}

// GlobalTenantID owns the rule set that applies to every tenant.
const GlobalTenantID = "*"
