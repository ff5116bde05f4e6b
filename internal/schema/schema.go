// Package schema defines the typed variable table shared by the condition
// evaluator, the record classifier and the rule router.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/creditsight/internal/domain"
)

// Type is the declared type of a schema variable.
type Type string

const (
	Number  Type = "number"
	Integer Type = "integer"
	Bool    Type = "bool"
	String  Type = "string"
)

// Variable is one entry of the schema.
type Variable struct {
	Name    string
	Type    Type
	Default any
}

// Schema maps variable names to their declared type and default.
// A Schema is built once and shared read-only.
type Schema struct {
	vars map[string]Variable

	aggregateIndicators map[string]struct{}
	aggregateOnly       []string
	revolving           map[string]struct{}
	installment         map[string]struct{}
	facilityNames       map[string]string
}

// New builds a schema from a variable list. Duplicate names keep the last entry.
func New(vars []Variable) *Schema {
	s := &Schema{
		vars:                make(map[string]Variable, len(vars)),
		aggregateIndicators: make(map[string]struct{}),
		revolving:           make(map[string]struct{}),
		installment:         make(map[string]struct{}),
		facilityNames:       make(map[string]string),
	}
	for _, v := range vars {
		s.vars[v.Name] = v
	}
	return s
}

// Lookup returns the declared variable for name.
func (s *Schema) Lookup(name string) (Variable, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Names returns every declared variable name, sorted.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.vars))
	for n := range s.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsAggregateIndicator reports whether the key marks a portfolio-level record.
func (s *Schema) IsAggregateIndicator(key string) bool {
	_, ok := s.aggregateIndicators[key]
	return ok
}

// AggregateIndicators returns the indicator keys, sorted.
func (s *Schema) AggregateIndicators() []string {
	return sortedKeys(s.aggregateIndicators)
}

// AggregateOnlyVariables returns the names that only make sense on an aggregate record.
func (s *Schema) AggregateOnlyVariables() []string {
	out := make([]string, len(s.aggregateOnly))
	copy(out, s.aggregateOnly)
	return out
}

// IsRevolvingFacility reports whether code is a revolving facility code.
func (s *Schema) IsRevolvingFacility(code string) bool {
	_, ok := s.revolving[code]
	return ok
}

// IsInstallmentFacility reports whether code is an installment facility code.
func (s *Schema) IsInstallmentFacility(code string) bool {
	_, ok := s.installment[code]
	return ok
}

// FacilityName returns the display name for a facility code, or the code itself.
func (s *Schema) FacilityName(code string) string {
	if name, ok := s.facilityNames[code]; ok {
		return name
	}
	return code
}

// Coerce converts value to the declared type of name. Unknown names pass
// through untouched. On failure the default is returned with a warning.
func (s *Schema) Coerce(name string, value any) (any, *domain.CoercionWarning) {
	v, ok := s.vars[name]
	if !ok {
		return value, nil
	}

	var (
		out any
		err error
	)
	switch v.Type {
	case Number:
		out, err = toFloat(value)
	case Integer:
		var f float64
		f, err = toFloat(value)
		if err == nil {
			out, err = toInt(f)
		}
	case Bool:
		out, err = toBool(value)
	case String:
		out = toString(value)
	default:
		return value, nil
	}

	if err != nil {
		return v.Default, &domain.CoercionWarning{Field: name, Value: value, Target: string(v.Type)}
	}
	return out, nil
}

// Prepare returns the evaluation view of a record: every schema default,
// overridden by the record's non-nil values, coerced to the declared types.
func (s *Schema) Prepare(record domain.Record) (map[string]any, []domain.CoercionWarning) {
	prepared := make(map[string]any, len(s.vars)+len(record))
	for name, v := range s.vars {
		prepared[name] = v.Default
	}

	var warnings []domain.CoercionWarning
	for key, value := range record {
		if value == nil {
			continue
		}
		coerced, warn := s.Coerce(key, value)
		if warn != nil {
			warnings = append(warnings, *warn)
		}
		prepared[key] = coerced
	}
	return prepared, warnings
}

// toInt truncates f toward zero. Values that are not finite or fall
// outside the int64 range are rejected.
func toInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is out of integer range", f)
	}
	return int64(math.Trunc(f)), nil
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseNumeric(v)
	case fmt.Stringer:
		return parseNumeric(v.String())
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

// parseNumeric accepts "85", "85.5", "85%", "1,234.50" and "RM 1,234.50".
func parseNumeric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "RM")
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return f, nil
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0", "":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	default:
		f, err := toFloat(value)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
