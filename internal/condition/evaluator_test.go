package condition

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/schema"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := New(schema.Default(), domain.EvaluatorConfig{})
	require.NoError(t, err)
	return e
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"creditutilizationratio > 80", "creditutilizationratio > 80.0"},
		{"a >= 3 and b == True", "a >= 3.0 && b == true"},
		{"not bankruptcy_active or x < 1.5", "!truthy(bankruptcy_active) || x < 1.5"},
		{"facility_type == 'and or 80'", "facility_type == 'and or 80'"},
		{"payment_conduct_code in [3, 4]", "payment_conduct_code in [3.0, 4.0]"},
		{"facility_type not in ['CRDTCARD', 'OVRDRAFT']", "!(facility_type in ['CRDTCARD', 'OVRDRAFT'])"},
		{"numapplicationslast12months > 5", "numapplicationslast12months > 5.0"},
		{"  x   >  1  ", "x > 1.0"},
		{"50 <= x <= 80", "50.0 <= x && x <= 80.0"},
		{"not 1 < x < 2", "!(1.0 < x && x < 2.0)"},
		{"x % 2 == 1", "mod(x, 2.0) == 1.0"},
		{"balance", "truthy(balance)"},
		{"a and (b or c > 1)", "truthy(a) && (truthy(b) || c > 1.0)"},
		{"x is None or y is not None", "x == null || y != null"},
		{"-x * (y + 2)", "truthy(-x * (y + 2.0))"},
		{"x > 1 ? true : false", "x > 1.0 ? true : false"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeWithSchemaTypes(t *testing.T) {
	e := newTestEvaluator(t)

	assert.Equal(t, "!bankruptcy_active || x < 1.5", e.normalize("not bankruptcy_active or x < 1.5"))
	assert.Equal(t, "!(legal_cases_active != 0.0)", e.normalize("not legal_cases_active"))
	assert.Equal(t, `aging_bucket != "" && truthy(custom)`, e.normalize("aging_bucket and custom"))
}

func TestIdentifiers(t *testing.T) {
	got := identifiers("between(balance, 1.0, 2.0) && facility_type.startsWith('CR') && not is_revolving and balance > 0")
	assert.Equal(t, []string{"balance", "facility_type", "is_revolving"}, got)
}

func TestEvaluateBasicComparisons(t *testing.T) {
	e := newTestEvaluator(t)

	cases := []struct {
		name      string
		condition string
		data      map[string]any
		want      bool
	}{
		{"above threshold", "creditutilizationratio > 80", map[string]any{"creditutilizationratio": 85}, true},
		{"below threshold", "creditutilizationratio > 80", map[string]any{"creditutilizationratio": 40.5}, false},
		{"percent string", "creditutilizationratio >= 85", map[string]any{"creditutilizationratio": "85%"}, true},
		{"integer equality", "payment_conduct_code == 3", map[string]any{"payment_conduct_code": 3}, true},
		{"boolean flag", "bankruptcy_active == true", map[string]any{"bankruptcy_active": true}, true},
		{"python boolean", "payment_conduct_all_zero == True and balance > 0", map[string]any{"payment_conduct_all_zero": true, "balance": 10}, true},
		{"string membership", "facility_type in ['CRDTCARD', 'OVRDRAFT']", map[string]any{"facility_type": "OVRDRAFT"}, true},
		{"not in", "facility_type not in ['CRDTCARD', 'OVRDRAFT']", map[string]any{"facility_type": "HSLNFNCE"}, true},
		{"arithmetic", "balance / limit * 100 > 80", map[string]any{"balance": 8500, "limit": 10000}, true},
		{"between helper", "between(creditutilizationratio, 50, 80)", map[string]any{"creditutilizationratio": 80}, true},
		{"between outside", "between(creditutilizationratio, 50, 80)", map[string]any{"creditutilizationratio": 80.1}, false},
		{"one_of helper", "one_of(payment_conduct_code, [3, 4, 5])", map[string]any{"payment_conduct_code": 4}, true},
		{"extra record key", "custom_score > 10", map[string]any{"custom_score": 11}, true},
		{"string method", "facility_type.startsWith('CRDT')", map[string]any{"facility_type": "CRDTCARD"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Evaluate(tc.condition, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateDefaultsMissingVariables(t *testing.T) {
	e := newTestEvaluator(t)

	got, err := e.Evaluate("legal_cases_active > 0", map[string]any{"facility_type": "CRDTCARD", "balance": 100})
	require.NoError(t, err)
	assert.False(t, got)

	got, err = e.Evaluate("legal_cases_active == 0 and aging_bucket == '' and not bankruptcy_active", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Successful)
	assert.Empty(t, stats.MissingVariables)
}

func TestEvaluateUnknownVariable(t *testing.T) {
	e := newTestEvaluator(t)

	got, err := e.Evaluate("mystery_metric > 1", map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.MissingVariables["mystery_metric"])
}

func TestEvaluateCoercionFallback(t *testing.T) {
	e := newTestEvaluator(t)

	got, err := e.Evaluate("balance == 0", map[string]any{"balance": "not a number"})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateParserErrors(t *testing.T) {
	e := newTestEvaluator(t)

	for _, cond := range []string{
		"creditutilizationratio >",
		"balance > > 3",
		"facility_type > 3",
		"__import__('os')",
		"exec('rm -rf /')",
	} {
		t.Run(cond, func(t *testing.T) {
			got, err := e.Evaluate(cond, map[string]any{"balance": 1})
			require.Error(t, err)
			assert.False(t, got)

			var perr *domain.ParserError
			assert.True(t, errors.As(err, &perr))
		})
	}

	stats := e.Stats()
	assert.Equal(t, stats.Total, stats.Failed)
}

func TestEvaluateDunderRejected(t *testing.T) {
	e := newTestEvaluator(t)

	_, err := e.Evaluate("x.__class__ == 1", map[string]any{"x": 1})
	require.Error(t, err)

	_, err = e.Evaluate("__builtins__ == 1", map[string]any{"__builtins__": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDunderAccess))
}

func TestEvaluateCostBound(t *testing.T) {
	e, err := New(schema.Default(), domain.EvaluatorConfig{CostLimit: 10})
	require.NoError(t, err)

	cond := "[1,2,3,4,5,6,7,8,9,10].all(i, [1,2,3,4,5,6,7,8,9,10].all(j, i * j > 0.0 || true))"
	got, err := e.Evaluate(cond, map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, int64(1), e.Stats().Failed)
}

func TestEmptyCondition(t *testing.T) {
	e := newTestEvaluator(t)

	got, err := e.Evaluate("   ", map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)

	// Counted toward the total but not as a failure.
	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(0), stats.Successful)
}

func TestEvaluateWordOperatorGrammar(t *testing.T) {
	e := newTestEvaluator(t)

	cases := []struct {
		name      string
		condition string
		data      map[string]any
		want      bool
	}{
		{"chained inside", "50 <= creditutilizationratio <= 80", map[string]any{"creditutilizationratio": 65}, true},
		{"chained above", "50 <= creditutilizationratio <= 80", map[string]any{"creditutilizationratio": 85}, false},
		{"chained below", "50 <= creditutilizationratio <= 80", map[string]any{"creditutilizationratio": 20}, false},
		{"not zero count", "not legal_cases_active", map[string]any{"legal_cases_active": 0}, true},
		{"not positive count", "not legal_cases_active", map[string]any{"legal_cases_active": 2}, false},
		{"number operand of and", "balance and custom_score > 80", map[string]any{"balance": 5, "custom_score": 81}, true},
		{"zero operand of and", "balance and custom_score > 80", map[string]any{"balance": 0, "custom_score": 81}, false},
		{"bare count", "legal_cases_active", map[string]any{"legal_cases_active": 1}, true},
		{"bare count defaulted", "legal_cases_active", map[string]any{}, false},
		{"bare string", "aging_bucket", map[string]any{"aging_bucket": "30-60"}, true},
		{"empty extra string", "custom_flag or balance > 1", map[string]any{"custom_flag": ""}, false},
		{"odd conduct code", "payment_conduct_code % 2 == 1", map[string]any{"payment_conduct_code": 3}, true},
		{"even conduct code", "payment_conduct_code % 2 == 1", map[string]any{"payment_conduct_code": 4}, false},
		{"modulo sign follows divisor", "-7 % 3 == 2", map[string]any{}, true},
		{"is none", "custom_key is not None", map[string]any{"custom_key": "x"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Evaluate(tc.condition, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateDivisionByZero(t *testing.T) {
	e := newTestEvaluator(t)

	for _, cond := range []string{
		"balance / limit > 0.5",
		"balance / limit < 0.5",
		"payment_conduct_code % 0 == 0",
	} {
		t.Run(cond, func(t *testing.T) {
			got, err := e.Evaluate(cond, map[string]any{"balance": 1, "limit": 0})
			require.NoError(t, err)
			assert.False(t, got)
		})
	}

	got, err := e.Evaluate("balance / limit > 0.5", map[string]any{"balance": 1, "limit": 1})
	require.NoError(t, err)
	assert.True(t, got)

	stats := e.Stats()
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.Failed)
}

func TestProgramCacheBounded(t *testing.T) {
	e, err := New(schema.Default(), domain.EvaluatorConfig{CacheSize: 8})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		d := e.Test(t.Context(), fmt.Sprintf("balance > %d", i), map[string]any{"balance": i})
		require.True(t, d.Success, d.Error)
	}
	assert.Equal(t, 8, e.programs.len())
}

func TestProgramCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newProgramCache(2)
	c.put("a", nil)
	c.put("b", nil)
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("c", nil)
	_, ok = c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())

	assert.Equal(t, DefaultCacheSize, newProgramCache(0).maxSize)
}

func TestCheck(t *testing.T) {
	e := newTestEvaluator(t)

	assert.NoError(t, e.Check("creditutilizationratio > 80 and is_revolving"))
	assert.NoError(t, e.Check("custom_key > 5"))
	assert.Error(t, e.Check("creditutilizationratio >"))
	assert.Error(t, e.Check("open('x')"))
}

func TestStatsSuccessRate(t *testing.T) {
	e := newTestEvaluator(t)

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate("balance > 1", map[string]any{"balance": i})
		require.NoError(t, err)
	}
	_, _ = e.Evaluate("unknown_thing > 1", map[string]any{})

	stats := e.Stats()
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.Successful)
	assert.Equal(t, "75.0%", stats.SuccessRate)

	e.ResetStats()
	stats = e.Stats()
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, "0.0%", stats.SuccessRate)
}

func TestObserver(t *testing.T) {
	e := newTestEvaluator(t)

	var outcomes []Outcome
	e.SetObserver(func(o Outcome) { outcomes = append(outcomes, o) })

	_, _ = e.Evaluate("balance > 1", map[string]any{"balance": 5})
	_, _ = e.Evaluate("balance > 1", map[string]any{"balance": 0})
	_, _ = e.Evaluate("balance >", map[string]any{})
	_, _ = e.Evaluate("nope > 1", map[string]any{})

	assert.Equal(t, []Outcome{OutcomeMatched, OutcomeNoMatch, OutcomeParser, OutcomeMissing}, outcomes)
}

func TestDiagnostics(t *testing.T) {
	e := newTestEvaluator(t)

	d := e.Test(t.Context(), "creditutilizationratio > 80 and legal_cases_active == 0", map[string]any{
		"creditutilizationratio": "85%",
	})

	require.True(t, d.Success, d.Error)
	require.NotNil(t, d.Result)
	assert.True(t, *d.Result)
	assert.Equal(t, []string{"legal_cases_active"}, d.DefaultedVariables)
	assert.True(t, d.UsedDefaults)
	assert.Equal(t, 85.0, d.VariableValues["creditutilizationratio"])
	assert.True(t, strings.Contains(d.Normalized, "&&"))

	bad := e.Test(t.Context(), "balance >", nil)
	assert.False(t, bad.Success)
	assert.Nil(t, bad.Result)
	assert.NotEmpty(t, bad.Error)
}
