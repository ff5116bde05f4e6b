package rules

import (
	"log/slog"

	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/render"
)

// numericDisplayKeys get a currency-formatted duplicate in the render context.
var numericDisplayKeys = []string{
	"balance",
	"limit",
	"trade_ref_amount_overdue",
}

// deriveFields returns the evaluation view of a record. A revolving loan
// that carries balance and limit but no utilization gets one derived, and
// the aggregate record inherits the bureau score from personal info.
func (e *Engine) deriveFields(record domain.Record, recordType domain.RecordType, revolving bool, personal map[string]any) domain.Record {
	if recordType == domain.RecordAggregate {
		if score, ok := personal["ctos_score"]; ok && !record.Has("ctos_score") {
			out := record.Clone()
			out["ctos_score"] = score
			return out
		}
		return record
	}
	if !revolving || record.Has("creditutilizationratio") {
		return record
	}

	balance, _ := e.schema.Coerce("balance", record["balance"])
	limit, _ := e.schema.Coerce("limit", record["limit"])
	b, _ := balance.(float64)
	l, _ := limit.(float64)
	if l <= 0 || record["balance"] == nil {
		return record
	}

	out := record.Clone()
	out["creditutilizationratio"] = b / l * 100
	slog.Debug("derived utilization", "balance", b, "limit", l, "utilization", out["creditutilizationratio"])
	return out
}

// renderContext merges personal info with the record and adds display aliases.
func (e *Engine) renderContext(record domain.Record, personal map[string]any) map[string]any {
	ctx := make(map[string]any, len(personal)+len(record)+8)
	for k, v := range personal {
		ctx[k] = v
	}
	for k, v := range record {
		ctx[k] = v
	}

	for _, key := range []string{"creditutilizationratio", "balance", "limit"} {
		if v, ok := ctx[key]; ok {
			f, warn := e.schema.Coerce(key, v)
			if warn != nil {
				slog.Warn("coercion fallback", "field", warn.Field, "value", warn.Value, "target", warn.Target)
			}
			ctx[key] = f
		}
	}

	if _, ok := ctx["loantype"]; !ok {
		if code, ok := ctx["facility_type"]; ok {
			ctx["loantype"] = e.schema.FacilityName(asString(code))
		} else if v, ok := ctx["loan_type"]; ok {
			ctx["loantype"] = v
		}
	}
	if _, ok := ctx["lendertype"]; !ok {
		if v, ok := ctx["lender"]; ok {
			ctx["lendertype"] = v
		}
	}
	if v, ok := ctx["loantype"]; ok {
		ctx["Facility"] = v
	}
	if v, ok := ctx["lendertype"]; ok {
		ctx["Lender_Type"] = v
	}
	if code, ok := ctx["facility_type"]; ok {
		ctx["facility_name"] = e.schema.FacilityName(asString(code))
	}

	if months, ok := ctx["oldest_account_months"]; ok {
		m, _ := e.schema.Coerce("oldest_account_months", months)
		if n, ok := m.(int64); ok && n != 0 {
			ctx["oldest_account_years"] = float64(n) / 12
		}
	}

	for _, key := range numericDisplayKeys {
		if v, ok := ctx[key]; ok {
			f, _ := e.schema.Coerce(key, v)
			if n, ok := f.(float64); ok {
				ctx[key+"_currency"] = e.currency + " " + render.Money(n)
			}
		}
	}
	return ctx
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
