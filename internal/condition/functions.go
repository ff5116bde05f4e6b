package condition

import (
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/interpreter"
)

// Helper functions exposed to rule conditions in addition to the CEL
// built-ins. Nothing else resolves as a callable.
const (
	fnBetween = "between"
	fnOneOf   = "one_of"
	fnTruthy  = "truthy"
	fnMod     = "mod"
)

// helperNames are the free functions registered by helperFunctions.
var helperNames = map[string]bool{
	fnBetween: true,
	fnOneOf:   true,
	fnTruthy:  true,
	fnMod:     true,
}

// builtinFunctions are the CEL standard functions conditions may call.
var builtinFunctions = map[string]bool{
	"size":   true,
	"double": true,
	"int":    true,
	"string": true,
	"has":    true,
}

func helperFunctions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function(fnBetween,
			cel.Overload("between_double_double_double",
				[]*cel.Type{cel.DynType, cel.DoubleType, cel.DoubleType},
				cel.BoolType,
				cel.FunctionBinding(between),
			),
		),
		cel.Function(fnOneOf,
			cel.Overload("one_of_dyn_list",
				[]*cel.Type{cel.DynType, cel.ListType(cel.DynType)},
				cel.BoolType,
				cel.BinaryBinding(oneOf),
			),
		),
		cel.Function(fnTruthy,
			cel.Overload("truthy_dyn",
				[]*cel.Type{cel.DynType},
				cel.BoolType,
				cel.UnaryBinding(truthy),
			),
		),
		cel.Function(fnMod,
			cel.Overload("mod_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType},
				cel.DoubleType,
				cel.BinaryBinding(mod),
			),
		),
	}
}

// between reports lo <= x <= hi.
func between(args ...ref.Val) ref.Val {
	if len(args) != 3 {
		return types.NewErr("between: expected 3 arguments, got %d", len(args))
	}
	x, ok := asDouble(args[0])
	if !ok {
		return types.NewErr("between: non-numeric value %v", args[0])
	}
	lo, ok := asDouble(args[1])
	if !ok {
		return types.NewErr("between: non-numeric lower bound %v", args[1])
	}
	hi, ok := asDouble(args[2])
	if !ok {
		return types.NewErr("between: non-numeric upper bound %v", args[2])
	}
	return types.Bool(x >= lo && x <= hi)
}

// oneOf reports whether value is an element of list.
func oneOf(value, list ref.Val) ref.Val {
	l, ok := list.(traits.Lister)
	if !ok {
		return types.NewErr("one_of: second argument must be a list")
	}
	return l.Contains(value)
}

// truthy reports the truth value of v: zero numbers, empty strings and
// containers, false and null are false.
func truthy(v ref.Val) ref.Val {
	switch x := v.(type) {
	case types.Bool:
		return x
	case types.Double:
		return types.Bool(x != 0)
	case types.Int:
		return types.Bool(x != 0)
	case types.Uint:
		return types.Bool(x != 0)
	case types.String:
		return types.Bool(x != "")
	case types.Null:
		return types.False
	case traits.Sizer:
		return types.Bool(x.Size() != types.IntZero)
	default:
		return types.True
	}
}

// mod is the floating-point remainder taking the sign of the divisor.
func mod(lhs, rhs ref.Val) ref.Val {
	a, ok := asDouble(lhs)
	if !ok {
		return types.NewErr("mod: non-numeric value %v", lhs)
	}
	b, ok := asDouble(rhs)
	if !ok {
		return types.NewErr("mod: non-numeric value %v", rhs)
	}
	if b == 0 {
		return types.NewErr("modulus by zero")
	}
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return types.Double(r)
}

// checkedDivision is a program decorator that turns floating-point division
// by zero into an evaluation error instead of an infinity or NaN.
func checkedDivision(i interpreter.Interpretable) (interpreter.Interpretable, error) {
	call, ok := i.(interpreter.InterpretableCall)
	if !ok || call.Function() != operators.Divide || len(call.Args()) != 2 {
		return i, nil
	}
	return &guardedDivide{InterpretableCall: call, divisor: call.Args()[1]}, nil
}

type guardedDivide struct {
	interpreter.InterpretableCall
	divisor interpreter.Interpretable
}

func (g *guardedDivide) Eval(act interpreter.Activation) ref.Val {
	if d, ok := g.divisor.Eval(act).(types.Double); ok && d == 0 {
		return types.NewErr("division by zero")
	}
	return g.InterpretableCall.Eval(act)
}

func asDouble(v ref.Val) (float64, bool) {
	switch n := v.(type) {
	case types.Double:
		return float64(n), true
	case types.Int:
		return float64(n), true
	case types.Uint:
		return float64(n), true
	default:
		return 0, false
	}
}
