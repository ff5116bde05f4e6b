// Package condition evaluates rule conditions against credit records.
//
// Conditions are compiled with CEL against a typed environment derived from
// the variable schema. An identifier can only resolve to a schema variable,
// a key present on the record being evaluated, or a whitelisted function.
package condition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/schema"
)

// Default limits applied when the configuration leaves them unset.
const (
	DefaultTimeout   = 100 * time.Millisecond
	DefaultCostLimit = 100000
)

// ErrDunderAccess is returned for conditions that reference "__" names.
var ErrDunderAccess = errors.New("identifiers containing '__' are not allowed")

// Outcome classifies a single evaluation, for metrics.
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"
	OutcomeNoMatch  Outcome = "no_match"
	OutcomeMissing  Outcome = "missing_variable"
	OutcomeParser   Outcome = "parser_error"
	OutcomeRuntime  Outcome = "runtime_error"
	OutcomeEmpty    Outcome = "empty"
	OutcomeNotBool  Outcome = "not_boolean"
	OutcomeTimedOut Outcome = "timeout"
)

// Observer receives the outcome of every evaluation.
type Observer func(Outcome)

// Evaluator evaluates conditions against records. It is safe for concurrent use.
type Evaluator struct {
	schema    *schema.Schema
	env       *cel.Env
	timeout   time.Duration
	costLimit uint64
	observer  Observer

	programs *programCache

	statsMu sync.Mutex
	stats   counters
}

type counters struct {
	total      int64
	successful int64
	failed     int64
	missing    map[string]int64
}

// New creates an evaluator over the given schema.
func New(s *schema.Schema, cfg domain.EvaluatorConfig) (*Evaluator, error) {
	if s == nil {
		return nil, fmt.Errorf("schema is required")
	}

	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, name := range s.Names() {
		v, _ := s.Lookup(name)
		opts = append(opts, cel.Variable(name, celType(v.Type)))
	}
	opts = append(opts, helperFunctions()...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	costLimit := cfg.CostLimit
	if costLimit == 0 {
		costLimit = DefaultCostLimit
	}

	return &Evaluator{
		schema:    s,
		env:       env,
		timeout:   timeout,
		costLimit: costLimit,
		programs:  newProgramCache(cfg.CacheSize),
		stats:     counters{missing: make(map[string]int64)},
	}, nil
}

// SetObserver installs a callback invoked with every evaluation outcome.
func (e *Evaluator) SetObserver(o Observer) {
	e.observer = o
}

// Evaluate evaluates condition against data.
func (e *Evaluator) Evaluate(condition string, data map[string]any) (bool, error) {
	return e.EvaluateContext(context.Background(), condition, data)
}

// EvaluateContext evaluates condition against data. A malformed condition
// returns a *domain.ParserError. Any other fault, including exceeding the
// time or cost bound, yields false with a nil error.
func (e *Evaluator) EvaluateContext(ctx context.Context, condition string, data map[string]any) (result bool, err error) {
	e.recordTotal()

	normalized := e.normalize(condition)
	if normalized == "" {
		slog.Warn("empty condition provided")
		e.observe(OutcomeEmpty)
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("condition evaluation panicked", "condition", condition, "panic", r)
			e.recordFailure()
			e.observe(OutcomeRuntime)
			result, err = false, nil
		}
	}()

	refs, extras, missing, perr := e.resolve(normalized, data)
	if perr != nil {
		e.recordFailure()
		e.observe(OutcomeParser)
		return false, &domain.ParserError{Condition: condition, Err: perr}
	}
	if len(missing) > 0 {
		slog.Warn("condition references unknown variables",
			"condition", condition,
			"missing", missing,
		)
		e.recordMissing(missing)
		e.observe(OutcomeMissing)
		return false, nil
	}

	prg, perr := e.program(normalized, extras)
	if perr != nil {
		slog.Error("condition rejected", "condition", condition, "error", perr)
		e.recordFailure()
		e.observe(OutcomeParser)
		return false, &domain.ParserError{Condition: condition, Err: perr}
	}

	activation := e.activation(refs, data)

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, _, evalErr := prg.ContextEval(evalCtx, activation)
	if evalErr != nil {
		outcome := OutcomeRuntime
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			outcome = OutcomeTimedOut
		}
		slog.Warn("condition evaluation failed",
			"condition", condition,
			"outcome", outcome,
			"error", evalErr,
		)
		e.recordFailure()
		e.observe(outcome)
		return false, nil
	}

	b, ok := out.(types.Bool)
	if !ok {
		slog.Warn("condition did not produce a boolean", "condition", condition, "type", out.Type())
		e.recordFailure()
		e.observe(OutcomeNotBool)
		return false, nil
	}

	e.recordSuccess()
	if b {
		e.observe(OutcomeMatched)
	} else {
		e.observe(OutcomeNoMatch)
	}
	return bool(b), nil
}

// Check compiles condition against the schema alone and reports syntax or
// type errors. Identifiers outside the schema are tolerated since records
// may carry them.
func (e *Evaluator) Check(condition string) error {
	normalized := e.normalize(condition)
	if normalized == "" {
		return nil
	}
	refs := identifiers(normalized)
	if err := e.checkNames(normalized); err != nil {
		return &domain.ParserError{Condition: condition, Err: err}
	}

	var extras []string
	for _, name := range refs {
		if _, ok := e.schema.Lookup(name); !ok {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	if _, err := e.program(normalized, extras); err != nil {
		return &domain.ParserError{Condition: condition, Err: err}
	}
	return nil
}

// resolve splits the referenced identifiers into schema variables, extra
// record keys to declare dynamically, and names nothing can supply.
func (e *Evaluator) resolve(normalized string, data map[string]any) (refs, extras, missing []string, err error) {
	refs = identifiers(normalized)
	if err := e.checkNames(normalized); err != nil {
		return nil, nil, nil, err
	}

	for _, name := range refs {
		if _, ok := e.schema.Lookup(name); ok {
			continue
		}
		if v, ok := data[name]; ok && v != nil {
			extras = append(extras, name)
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(extras)
	return refs, extras, missing, nil
}

func (e *Evaluator) checkNames(normalized string) error {
	for _, t := range tokenize(normalized) {
		if t.kind == tokIdent && strings.Contains(t.text, "__") {
			return fmt.Errorf("%w: %s", ErrDunderAccess, t.text)
		}
	}
	for _, fn := range functionCalls(normalized) {
		if !helperNames[fn] && !builtinFunctions[fn] {
			return fmt.Errorf("function %q is not allowed", fn)
		}
	}
	return nil
}

// program returns the cached program for a condition, compiling it once per
// distinct set of dynamically declared names. The cache is bounded; the
// least recently used program is evicted first.
func (e *Evaluator) program(normalized string, extras []string) (cel.Program, error) {
	key := normalized + "\x00" + strings.Join(extras, ",")

	if prg, ok := e.programs.get(key); ok {
		return prg, nil
	}

	env := e.env
	if len(extras) > 0 {
		opts := make([]cel.EnvOption, 0, len(extras))
		for _, name := range extras {
			opts = append(opts, cel.Variable(name, cel.DynType))
		}
		var err error
		env, err = e.env.Extend(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to extend CEL environment: %w", err)
		}
	}

	ast, issues := env.Compile(normalized)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	switch ast.OutputType().Kind() {
	case types.BoolKind, types.DynKind:
	default:
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
		cel.CustomDecorator(checkedDivision),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	e.programs.put(key, prg)
	return prg, nil
}

// normalize rewrites condition with schema types available, so numeric and
// string variables get a typed truthiness test.
func (e *Evaluator) normalize(condition string) string {
	return normalize(condition, func(name string) (schema.Type, bool) {
		v, ok := e.schema.Lookup(name)
		return v.Type, ok
	})
}

// activation builds the CEL bindings for the referenced names only.
func (e *Evaluator) activation(refs []string, data map[string]any) map[string]any {
	vars := make(map[string]any, len(refs))
	for _, name := range refs {
		if v, ok := e.schema.Lookup(name); ok {
			value, ok := data[name]
			if !ok || value == nil {
				value = v.Default
			} else {
				coerced, warn := e.schema.Coerce(name, value)
				if warn != nil {
					slog.Warn("coercion fallback", "field", warn.Field, "value", warn.Value, "target", warn.Target)
				}
				value = coerced
			}
			vars[name] = celValue(v.Type, value)
			continue
		}
		vars[name] = dynValue(data[name])
	}
	return vars
}

func celType(t schema.Type) *cel.Type {
	switch t {
	case schema.Number, schema.Integer:
		return cel.DoubleType
	case schema.Bool:
		return cel.BoolType
	case schema.String:
		return cel.StringType
	default:
		return cel.DynType
	}
}

// celValue converts a coerced schema value to the CEL representation of
// its declared type. Integers are evaluated as doubles.
func celValue(t schema.Type, v any) any {
	switch t {
	case schema.Number, schema.Integer:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
		return 0.0
	default:
		return v
	}
}

// dynValue widens numeric values of undeclared record keys to double.
func dynValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

func (e *Evaluator) observe(o Outcome) {
	if e.observer != nil {
		e.observer(o)
	}
}
