// Package rules loads insight rules and matches them against normalized
// credit records.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/creditsight/internal/classify"
	"github.com/opensource-finance/creditsight/internal/condition"
	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/render"
	"github.com/opensource-finance/creditsight/internal/routing"
	"github.com/opensource-finance/creditsight/internal/schema"
)

// Skip reasons reported to the Observer.
const (
	SkipNotApplicable = "not_applicable"
	SkipEmpty         = "empty_condition"
	SkipParser        = "parser_error"
	SkipRender        = "render_error"
	SkipDuplicate     = "duplicate"
	SkipFault         = "fault"
)

// Observer receives per-pair outcomes of a processing pass.
type Observer interface {
	ObserveSkip(reason string)
	ObserveInsight(severity domain.Severity, group domain.RuleGroup)
}

// CompiledRule is a loaded rule with its load-time derived state.
type CompiledRule struct {
	Rule           domain.Rule
	Route          routing.Route
	Severity       domain.Severity
	Template       string
	Recommendation string

	// CheckErr is set when the condition failed to compile at load time.
	// The rule stays loaded; evaluation reports the same ParserError.
	CheckErr error
}

// Engine matches rules against the records of a report.
type Engine struct {
	schema     *schema.Schema
	classifier *classify.Classifier
	resolver   *routing.Resolver
	evaluator  *condition.Evaluator
	renderer   *render.Renderer
	currency   string

	mu             sync.RWMutex
	rules          []*CompiledRule
	includeRecords bool
	observer       Observer
}

// Options configure an Engine.
type Options struct {
	CurrencyPrefix string
	IncludeRecords bool
	Observer       Observer
}

// NewEngine creates an engine and loads rules into it.
func NewEngine(s *schema.Schema, evaluator *condition.Evaluator, rules []domain.Rule, opts Options) (*Engine, error) {
	if s == nil || evaluator == nil {
		return nil, fmt.Errorf("schema and evaluator are required")
	}
	if opts.CurrencyPrefix == "" {
		opts.CurrencyPrefix = "RM"
	}

	e := &Engine{
		schema:         s,
		classifier:     classify.New(s),
		resolver:       routing.NewResolver(s),
		evaluator:      evaluator,
		renderer:       render.New(opts.CurrencyPrefix),
		currency:       opts.CurrencyPrefix,
		includeRecords: opts.IncludeRecords,
		observer:       opts.Observer,
	}
	if err := e.ReloadRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// ReloadRules validates and compiles a new rule set, replacing the current one.
func (e *Engine) ReloadRules(rules []domain.Rule) error {
	if err := Validate(rules); err != nil {
		return err
	}

	compiled := make([]*CompiledRule, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, e.compileRule(r))
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

func (e *Engine) compileRule(r domain.Rule) *CompiledRule {
	cr := &CompiledRule{
		Rule:           r,
		Route:          e.resolver.Route(r),
		Severity:       domain.SeverityFromPriority(r.Priority),
		Template:       render.ApplyAliases(r.Template),
		Recommendation: render.ApplyAliases(r.Recommendation),
	}
	if err := e.evaluator.Check(r.Condition); err != nil {
		cr.CheckErr = err
		slog.Warn("rule condition does not compile", "rule_id", r.ID, "error", err)
	}
	for _, tmpl := range []string{cr.Template, cr.Recommendation} {
		if err := e.renderer.Validate(tmpl); err != nil {
			slog.Warn("rule template is malformed", "rule_id", r.ID, "error", err)
		}
	}
	return cr
}

// Rules returns the loaded rules in declared order.
func (e *Engine) Rules() []*CompiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*CompiledRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Rule returns a loaded rule by id.
func (e *Engine) Rule(id string) (*CompiledRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.Rule.ID == id {
			return r, true
		}
	}
	return nil, false
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Evaluator returns the engine's condition evaluator.
func (e *Engine) Evaluator() *condition.Evaluator {
	return e.evaluator
}

// Process evaluates every loaded rule against every record, in record order
// then declared rule order, and returns the deduplicated insights. A failing
// (rule, record) pair is logged and skipped; processing always runs to the
// end of the record set unless ctx is cancelled.
func (e *Engine) Process(ctx context.Context, report *domain.NormalizedReport) ([]domain.Insight, domain.Diagnostics) {
	start := time.Now()
	rules := e.Rules()

	diag := domain.Diagnostics{Rules: len(rules)}
	if report == nil {
		return nil, diag
	}
	diag.Records = len(report.Records)

	slog.Info("processing records", "records", len(report.Records), "rules", len(rules))

	p := &pass{
		engine: e,
		seen:   make(map[string]struct{}),
		diag:   &diag,
	}

	for idx, record := range report.Records {
		if ctx.Err() != nil {
			slog.Warn("processing cancelled", "record_index", idx, "error", ctx.Err())
			break
		}
		p.record(ctx, idx, record, report.PersonalInfo, rules)
	}

	diag.DurationMs = time.Since(start).Milliseconds()
	diag.Evaluator = e.evaluator.Stats()

	slog.Info("processing complete",
		"records", diag.Records,
		"insights", len(p.insights),
		"evaluated", diag.Evaluated,
		"skipped", diag.Skipped(),
	)
	return p.insights, diag
}

// pass holds the state owned by one Process call.
type pass struct {
	engine   *Engine
	seen     map[string]struct{}
	insights []domain.Insight
	diag     *domain.Diagnostics
}

func (p *pass) record(ctx context.Context, idx int, record domain.Record, personal map[string]any, rules []*CompiledRule) {
	e := p.engine
	recordType := e.classifier.Classify(record)
	revolving := e.classifier.IsRevolving(record)
	data := e.deriveFields(record, recordType, revolving, personal)
	renderCtx := e.renderContext(data, personal)

	evaluated, skipped := 0, 0
	for _, cr := range rules {
		if !cr.Route.Applies(recordType, revolving) {
			skipped++
			p.diag.NotApplicable++
			e.skip(SkipNotApplicable)
			continue
		}
		evaluated++
		p.apply(ctx, idx, cr, data, recordType, renderCtx)
	}

	slog.Debug("record processed",
		"record_index", idx,
		"record_type", recordType,
		"revolving", revolving,
		"evaluated", evaluated,
		"skipped", skipped,
	)
}

// apply evaluates one applicable (rule, record) pair.
func (p *pass) apply(ctx context.Context, idx int, cr *CompiledRule, data domain.Record, recordType domain.RecordType, renderCtx map[string]any) {
	e := p.engine
	defer func() {
		if r := recover(); r != nil {
			p.diag.Faults++
			e.skip(SkipFault)
			slog.Error("rule evaluation fault",
				"rule_id", cr.Rule.ID,
				"record_index", idx,
				"panic", r,
			)
		}
	}()

	p.diag.Evaluated++
	if strings.TrimSpace(cr.Rule.Condition) == "" {
		p.diag.EmptyCondition++
		e.skip(SkipEmpty)
		return
	}

	matched, err := e.evaluator.EvaluateContext(ctx, cr.Rule.Condition, data)
	if err != nil {
		var perr *domain.ParserError
		if errors.As(err, &perr) {
			p.diag.ParserErrors++
			e.skip(SkipParser)
		} else {
			p.diag.Faults++
			e.skip(SkipFault)
		}
		slog.Error("rule condition failed",
			"rule_id", cr.Rule.ID,
			"record_index", idx,
			"error", err,
		)
		return
	}
	if !matched {
		return
	}
	p.diag.Matched++

	message, err := e.renderer.Render(cr.Template, renderCtx)
	if err != nil {
		p.renderFailed(cr, idx, "template", err)
		return
	}
	recommendation, err := e.renderer.Render(cr.Recommendation, renderCtx)
	if err != nil {
		p.renderFailed(cr, idx, "recommendation", err)
		return
	}

	insight := domain.Insight{
		Label:          cr.Rule.Label,
		Type:           cr.Rule.CompoundType,
		Message:        message,
		Recommendation: recommendation,
		Severity:       cr.Severity,
		Priority:       cr.Rule.Priority,
		DataSource:     cr.Rule.DataSource,
		RecordType:     recordType,
		RecordIndex:    idx,
		RuleID:         cr.Rule.ID,
		RuleGroup:      cr.Rule.Group,
		ImpactScore:    cr.Rule.ImpactScore,
	}

	key := insight.DedupKey()
	if _, dup := p.seen[key]; dup {
		p.diag.Duplicates++
		e.skip(SkipDuplicate)
		return
	}
	p.seen[key] = struct{}{}

	if e.includeRecords {
		insight.Data = data.Clone()
	}
	p.insights = append(p.insights, insight)
	if e.observer != nil {
		e.observer.ObserveInsight(insight.Severity, insight.RuleGroup)
	}
}

func (p *pass) renderFailed(cr *CompiledRule, idx int, field string, err error) {
	p.diag.RenderErrors++
	p.engine.skip(SkipRender)
	slog.Warn("insight render failed",
		"rule_id", cr.Rule.ID,
		"record_index", idx,
		"field", field,
		"error", err,
	)
}

func (e *Engine) skip(reason string) {
	if e.observer != nil {
		e.observer.ObserveSkip(reason)
	}
}
