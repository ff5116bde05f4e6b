// Package aggregate turns a run's insights into a scored report.
package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/creditsight/internal/domain"
)

// Thresholds are the inclusive lower bounds of each risk level.
type Thresholds struct {
	Critical float64
	High     float64
	Moderate float64
	Low      float64
}

// DefaultThresholds returns the standard risk bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 200, High: 150, Moderate: 100, Low: 50}
}

// Level maps a summed impact score to a risk level.
func (t Thresholds) Level(score float64) domain.RiskLevel {
	switch {
	case score >= t.Critical:
		return domain.RiskCritical
	case score >= t.High:
		return domain.RiskHigh
	case score >= t.Moderate:
		return domain.RiskModerate
	case score >= t.Low:
		return domain.RiskLow
	default:
		return domain.RiskMinimal
	}
}

// labelRanks orders labels for display. Unlisted labels sort last.
var labelRanks = map[string]int{
	"🔴 High Utilization":       1,
	"🟠 Moderate Utilization":   2,
	"🟠 Missed Payments":        3,
	"🟡 Frequent Applications":  4,
	"🟡 Pending Applications":   5,
	"🟡 High Decline Rate":      6,
	"🟣 Thin Credit File":       7,
	"⚪ Short Credit History":   8,
	"⚪ Recent Enquiries":       9,
	"⚪ Trade Reference Issues": 10,
	"⚫ Legal Risk":             11,
	"🔵 Lender Concentration":   12,
	"🔵 Secured Debt Heavy":     13,
	"🟢 Positive Pattern":       14,
	"🟢 Low Utilization":        15,
	"🟢 Long Credit History":    16,
	"🟢 Low Application Rate":   17,
}

const unrankedLabel = 99

// LabelRank returns the display rank of a label.
func LabelRank(label string) int {
	if r, ok := labelRanks[label]; ok {
		return r
	}
	return unrankedLabel
}

// SortForDisplay returns insights ordered by label rank, then severity rank,
// then insertion order. Labels of equal rank keep first-seen order.
func SortForDisplay(insights []domain.Insight) []domain.Insight {
	firstSeen := make(map[string]int)
	for i, in := range insights {
		if _, ok := firstSeen[in.Label]; !ok {
			firstSeen[in.Label] = i
		}
	}

	out := make([]domain.Insight, len(insights))
	copy(out, insights)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := LabelRank(a.Label), LabelRank(b.Label); ra != rb {
			return ra < rb
		}
		if a.Label != b.Label {
			return firstSeen[a.Label] < firstSeen[b.Label]
		}
		return a.Severity.Rank() < b.Severity.Rank()
	})
	return out
}

// Aggregator builds reports from insight collections.
type Aggregator struct {
	Thresholds Thresholds
}

// New creates an aggregator with the default risk bands.
func New() *Aggregator {
	return &Aggregator{Thresholds: DefaultThresholds()}
}

// Input is everything needed to build one report.
type Input struct {
	TenantID     string
	ReportID     string
	PersonalInfo map[string]any
	Insights     []domain.Insight
	Diagnostics  domain.Diagnostics
}

// Aggregate groups, counts and scores the insights of one run.
func (a *Aggregator) Aggregate(ctx context.Context, input *Input) *domain.Report {
	id := input.ReportID
	if id == "" {
		id = uuid.New().String()
	}

	report := &domain.Report{
		ID:               id,
		TenantID:         input.TenantID,
		GeneratedAt:      time.Now().UTC(),
		PersonalInfo:     input.PersonalInfo,
		TotalInsights:    len(input.Insights),
		CountsByLabel:    make(map[string]int),
		CountsBySeverity: make(map[domain.Severity]int, len(domain.Severities)),
		CountsByGroup:    make(map[domain.RuleGroup]int),
		Diagnostics:      input.Diagnostics,
	}
	for _, s := range domain.Severities {
		report.CountsBySeverity[s] = 0
	}

	for _, in := range input.Insights {
		report.CountsByLabel[in.Label]++
		report.CountsBySeverity[in.Severity]++
		if in.RuleGroup != "" {
			report.CountsByGroup[in.RuleGroup]++
		}
		if in.Severity != domain.SeverityPositive {
			report.ImpactScore += in.ImpactScore
		}
	}
	report.RiskLevel = a.Thresholds.Level(report.ImpactScore)

	report.Insights = SortForDisplay(input.Insights)
	report.InsightsByLabel = groupByLabel(report.Insights)
	return report
}

// groupByLabel splits display-ordered insights into contiguous label groups.
func groupByLabel(sorted []domain.Insight) []domain.LabelGroup {
	var groups []domain.LabelGroup
	for _, in := range sorted {
		if n := len(groups); n > 0 && groups[n-1].Label == in.Label {
			groups[n-1].Insights = append(groups[n-1].Insights, in)
			groups[n-1].Count++
			continue
		}
		groups = append(groups, domain.LabelGroup{Label: in.Label, Count: 1, Insights: []domain.Insight{in}})
	}
	return groups
}

// ShouldAlert returns true if the report's risk level warrants an alert.
func ShouldAlert(report *domain.Report) bool {
	return report.RiskLevel == domain.RiskCritical || report.RiskLevel == domain.RiskHigh
}

// Reasons extracts the messages of critical and high severity insights.
func Reasons(report *domain.Report) []string {
	var reasons []string
	for _, in := range report.Insights {
		if in.Severity == domain.SeverityCritical || in.Severity == domain.SeverityHigh {
			reasons = append(reasons, in.Message)
		}
	}
	return reasons
}
