package aggregate

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/creditsight/internal/domain"
)

const ruleWidth = 70

var severityIcons = map[domain.Severity]string{
	domain.SeverityCritical: "⛔",
	domain.SeverityHigh:     "🔴",
	domain.SeverityMedium:   "🟡",
	domain.SeverityLow:      "🔵",
	domain.SeverityPositive: "✅",
}

// WriteText writes a console rendering of report to w.
func WriteText(w io.Writer, report *domain.Report) error {
	bw := bufio.NewWriter(w)
	rule := strings.Repeat("=", ruleWidth)

	if report.TotalInsights == 0 {
		fmt.Fprintln(bw, "No insights to display")
		return bw.Flush()
	}

	fmt.Fprintf(bw, "\n%s\n%s\n%s\n", rule, center("Credit Behavior Insight Report", ruleWidth), rule)
	if name, ok := report.PersonalInfo["name"].(string); ok && name != "" {
		fmt.Fprintf(bw, "Subject: %s\n", name)
	}
	fmt.Fprintf(bw, "Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(bw, "Total Insights: %d\n", report.TotalInsights)
	fmt.Fprintf(bw, "Impact Score: %.0f (%s)\n", report.ImpactScore, report.RiskLevel)
	fmt.Fprintln(bw, rule)

	fmt.Fprintf(bw, "\nSummary by Severity:\n%s\n", strings.Repeat("-", ruleWidth))
	for _, s := range domain.Severities {
		if n := report.CountsBySeverity[s]; n > 0 {
			fmt.Fprintf(bw, "  %s %s: %d\n", severityIcons[s], title(string(s)), n)
		}
	}

	for _, group := range report.InsightsByLabel {
		fmt.Fprintf(bw, "\n%s\n%s\n%s\n", rule, group.Label, rule)
		for i, in := range group.Insights {
			icon, ok := severityIcons[in.Severity]
			if !ok {
				icon = "•"
			}
			fmt.Fprintf(bw, "\n%d. %s\n", i+1, in.Type)
			fmt.Fprintf(bw, "   %s %s\n", icon, in.Message)
			if in.Recommendation != "" {
				fmt.Fprintf(bw, "\n   💡 Recommendation:\n")
				for _, line := range wrap(in.Recommendation, 64) {
					fmt.Fprintf(bw, "      %s\n", line)
				}
			}
			if in.DataSource != "" {
				fmt.Fprintf(bw, "   📊 Data Source: %s\n", in.DataSource)
			}
		}
	}

	if d := report.Diagnostics; d.Skipped() > 0 {
		fmt.Fprintf(bw, "\nSkipped pairs: %d (parser %d, render %d, faults %d)\n",
			d.Skipped(), d.ParserErrors, d.RenderErrors, d.Faults)
	}

	fmt.Fprintf(bw, "\n%s\n%s\n%s\n\n", rule, center("End of Report", ruleWidth), rule)
	return bw.Flush()
}

func center(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// wrap splits text into lines no longer than width, breaking on spaces.
func wrap(text string, width int) []string {
	var (
		lines []string
		line  []string
		size  int
	)
	for _, word := range strings.Fields(text) {
		if len(line) > 0 && size+len(word)+len(line) > width {
			lines = append(lines, strings.Join(line, " "))
			line, size = nil, 0
		}
		line = append(line, word)
		size += len(word)
	}
	if len(line) > 0 {
		lines = append(lines, strings.Join(line, " "))
	}
	return lines
}
