package condition

import (
	"fmt"

	"github.com/opensource-finance/creditsight/internal/domain"
)

func (e *Evaluator) recordTotal() {
	e.statsMu.Lock()
	e.stats.total++
	e.statsMu.Unlock()
}

func (e *Evaluator) recordSuccess() {
	e.statsMu.Lock()
	e.stats.successful++
	e.statsMu.Unlock()
}

func (e *Evaluator) recordFailure() {
	e.statsMu.Lock()
	e.stats.failed++
	e.statsMu.Unlock()
}

func (e *Evaluator) recordMissing(names []string) {
	e.statsMu.Lock()
	e.stats.failed++
	for _, n := range names {
		e.stats.missing[n]++
	}
	e.statsMu.Unlock()
}

// Stats returns a snapshot of the running counters.
func (e *Evaluator) Stats() domain.EvaluatorStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	rate := 0.0
	if e.stats.total > 0 {
		rate = float64(e.stats.successful) / float64(e.stats.total) * 100
	}

	missing := make(map[string]int64, len(e.stats.missing))
	for k, v := range e.stats.missing {
		missing[k] = v
	}

	return domain.EvaluatorStats{
		Total:            e.stats.total,
		Successful:       e.stats.successful,
		Failed:           e.stats.failed,
		SuccessRate:      fmt.Sprintf("%.1f%%", rate),
		MissingVariables: missing,
	}
}

// ResetStats clears all counters.
func (e *Evaluator) ResetStats() {
	e.statsMu.Lock()
	e.stats = counters{missing: make(map[string]int64)}
	e.statsMu.Unlock()
}
