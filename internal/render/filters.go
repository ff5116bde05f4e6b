package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Filter formats a value. arg is the optional parenthesised argument.
type Filter func(value any, arg string) string

// Filters is the registry of named filters.
type Filters map[string]Filter

// DefaultFilters returns the built-in filters.
func DefaultFilters(currencyPrefix string) Filters {
	if currencyPrefix == "" {
		currencyPrefix = "RM"
	}
	return Filters{
		"currency": func(v any, _ string) string {
			f, ok := toFloat(v)
			if !ok {
				f = 0
			}
			return currencyPrefix + " " + Money(f)
		},
		"percentage": func(v any, _ string) string {
			f, ok := toFloat(v)
			if !ok {
				f = 0
			}
			return strconv.FormatFloat(f, 'f', 1, 64) + "%"
		},
		"date": func(v any, _ string) string {
			s := fmt.Sprint(v)
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				return s
			}
			return t.Format("02/01/2006")
		},
		"round": func(v any, arg string) string {
			places := 1
			if n, err := strconv.Atoi(arg); err == nil && n >= 0 {
				places = n
			}
			f, ok := toFloat(v)
			if !ok {
				return fmt.Sprint(v)
			}
			return decimal.NewFromFloat(f).StringFixed(int32(places))
		},
		"int": func(v any, _ string) string {
			f, ok := toFloat(v)
			if !ok {
				return "0"
			}
			return strconv.FormatInt(int64(f), 10)
		},
		"upper": func(v any, _ string) string { return strings.ToUpper(fmt.Sprint(v)) },
		"lower": func(v any, _ string) string { return strings.ToLower(fmt.Sprint(v)) },
	}
}

// Money formats f with thousands separators and two decimal places.
func Money(f float64) string {
	d := decimal.NewFromFloat(f).Round(2)
	return humanize.FormatFloat("#,###.##", d.InexactFloat64())
}

// FormatValue renders a context value for a placeholder with no filter.
// Floats are formatted by key name; everything else prints as is.
func FormatValue(key string, value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		return formatFloat(key, v)
	case float32:
		return formatFloat(key, float64(v))
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func formatFloat(key string, v float64) string {
	lower := strings.ToLower(key)
	switch {
	case key == "creditutilizationratio" || key == "utilization":
		return strconv.FormatFloat(v, 'f', 1, 64)
	case key == "balance" || key == "limit":
		return Money(v)
	case strings.Contains(lower, "ratio") || strings.Contains(lower, "percentage"):
		return strconv.FormatFloat(v, 'f', 1, 64)
	case strings.Contains(lower, "amount") || strings.Contains(lower, "value"):
		return Money(v)
	default:
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		s := strings.TrimSuffix(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), "%")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case fmt.Stringer:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
