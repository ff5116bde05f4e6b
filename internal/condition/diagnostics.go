package condition

import (
	"context"
	"sort"
)

// Diagnostics explains how a condition evaluates against a data mapping.
type Diagnostics struct {
	Success            bool           `json:"success"`
	Result             *bool          `json:"result"`
	Condition          string         `json:"condition"`
	Normalized         string         `json:"normalized_condition,omitempty"`
	RequiredVariables  []string       `json:"required_variables,omitempty"`
	VariableValues     map[string]any `json:"variable_values,omitempty"`
	DefaultedVariables []string       `json:"defaulted_variables,omitempty"`
	UnknownVariables   []string       `json:"unknown_variables,omitempty"`
	UsedDefaults       bool           `json:"used_defaults"`
	Error              string         `json:"error,omitempty"`
}

// Test evaluates condition against data and reports the values and
// defaults that took part. It counts toward the running statistics.
func (e *Evaluator) Test(ctx context.Context, condition string, data map[string]any) Diagnostics {
	d := Diagnostics{Condition: condition}

	d.Normalized = e.normalize(condition)
	d.RequiredVariables = identifiers(d.Normalized)
	d.VariableValues = make(map[string]any, len(d.RequiredVariables))

	for _, name := range d.RequiredVariables {
		raw, present := data[name]
		present = present && raw != nil
		v, declared := e.schema.Lookup(name)

		switch {
		case declared && !present:
			d.DefaultedVariables = append(d.DefaultedVariables, name)
			d.VariableValues[name] = v.Default
		case declared:
			coerced, _ := e.schema.Coerce(name, raw)
			d.VariableValues[name] = coerced
		case present:
			d.VariableValues[name] = raw
		default:
			d.UnknownVariables = append(d.UnknownVariables, name)
		}
	}
	sort.Strings(d.DefaultedVariables)
	sort.Strings(d.UnknownVariables)
	d.UsedDefaults = len(d.DefaultedVariables) > 0

	result, err := e.EvaluateContext(ctx, condition, data)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.Success = true
	d.Result = &result
	return d
}
