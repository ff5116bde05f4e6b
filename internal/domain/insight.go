package domain

import "time"

// Insight is the output of one rule matching one record.
// Insights are never mutated after creation.
type Insight struct {
	Label          string     `json:"label"`
	Type           string     `json:"type"`
	Message        string     `json:"message"`
	Recommendation string     `json:"recommendation"`
	Severity       Severity   `json:"severity"`
	Priority       string     `json:"priority"`
	DataSource     string     `json:"data_source"`
	RecordType     RecordType `json:"record_type"`
	RecordIndex    int        `json:"record_index"`
	RuleID         string     `json:"rule_id"`
	RuleGroup      RuleGroup  `json:"rule_group"`
	ImpactScore    float64    `json:"impact_score"`
	Data           Record     `json:"data,omitempty"`
}

// DedupKey is the composed key used to collapse duplicate insights.
func (i *Insight) DedupKey() string {
	return i.Label + ":" + i.Type + ":" + i.Message
}

// RiskLevel is the overall level derived from summed impact scores.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskModerate RiskLevel = "MODERATE"
	RiskLow      RiskLevel = "LOW"
	RiskMinimal  RiskLevel = "MINIMAL"
)

// Report is the aggregate view over an insight collection.
type Report struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id,omitempty"`
	GeneratedAt      time.Time         `json:"generated_at"`
	PersonalInfo     map[string]any    `json:"personal_info,omitempty"`
	TotalInsights    int               `json:"total_insights"`
	CountsByLabel    map[string]int    `json:"counts_by_label"`
	CountsBySeverity map[Severity]int  `json:"counts_by_severity"`
	CountsByGroup    map[RuleGroup]int `json:"counts_by_group"`
	ImpactScore      float64           `json:"impact_score"`
	RiskLevel        RiskLevel         `json:"risk_level"`
	InsightsByLabel  []LabelGroup      `json:"insights_by_label"`
	Insights         []Insight         `json:"insights"`
	Diagnostics      Diagnostics       `json:"diagnostics"`
}

// LabelGroup holds the insights sharing one label, in display order.
type LabelGroup struct {
	Label    string    `json:"label"`
	Count    int       `json:"count"`
	Insights []Insight `json:"insights"`
}

// Diagnostics records skip and failure counts for operator review.
type Diagnostics struct {
	Records        int   `json:"records"`
	Rules          int   `json:"rules"`
	Evaluated      int   `json:"evaluated"`
	NotApplicable  int   `json:"not_applicable"`
	EmptyCondition int   `json:"empty_condition"`
	Matched        int   `json:"matched"`
	Duplicates     int   `json:"duplicates"`
	ParserErrors   int   `json:"parser_errors"`
	RenderErrors   int   `json:"render_errors"`
	Faults         int   `json:"faults"`
	DurationMs     int64 `json:"duration_ms"`

	Evaluator EvaluatorStats `json:"evaluator"`
}

// Skipped is the number of applicable pairs that produced no insight due to a failure.
func (d Diagnostics) Skipped() int {
	return d.ParserErrors + d.RenderErrors + d.Faults
}

// EvaluatorStats are the running counters of the condition evaluator.
type EvaluatorStats struct {
	Total            int64            `json:"total_evaluations"`
	Successful       int64            `json:"successful"`
	Failed           int64            `json:"failed"`
	SuccessRate      string           `json:"success_rate"`
	MissingVariables map[string]int64 `json:"missing_variables"`
}
