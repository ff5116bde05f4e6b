package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/schema"
)

func TestClassifyAggregateTakesPrecedence(t *testing.T) {
	c := New(schema.Default())

	indicators := schema.Default().AggregateIndicators()
	for _, key := range indicators {
		t.Run(key, func(t *testing.T) {
			rec := domain.Record{
				key:             0,
				"facility_type": "CRDTCARD",
				"loantype":      "Credit Card",
				"balance":       100.0,
			}
			assert.Equal(t, domain.RecordAggregate, c.Classify(rec))
		})
	}
}

func TestClassifyLoan(t *testing.T) {
	c := New(schema.Default())

	assert.Equal(t, domain.RecordLoan, c.Classify(domain.Record{"facility_type": "HSLNFNCE"}))
	assert.Equal(t, domain.RecordLoan, c.Classify(domain.Record{"loantype": "Housing Loan"}))
	assert.Equal(t, domain.RecordLoan, c.Classify(domain.Record{"balance": 1.0}), "fallback is loan")
	assert.Equal(t, domain.RecordLoan, c.Classify(domain.Record{}))
}

func TestIsRevolving(t *testing.T) {
	c := New(schema.Default())

	cases := []struct {
		name string
		rec  domain.Record
		want bool
	}{
		{"credit card", domain.Record{"facility_type": "CRDTCARD"}, true},
		{"overdraft", domain.Record{"facility_type": "OVRDRAFT"}, true},
		{"housing", domain.Record{"facility_type": "HSLNFNCE"}, false},
		{"car", domain.Record{"facility_type": "PCPASCAR"}, false},
		{"term", domain.Record{"facility_type": "OTLNFNCE"}, false},
		{"micro", domain.Record{"facility_type": "MICROEFN"}, false},
		{"loan_type alias", domain.Record{"loan_type": "CRDTCARD"}, true},
		{"loantype alias", domain.Record{"loantype": "OVRDRAFT"}, true},
		{"first non-empty wins", domain.Record{"facility_type": "HSLNFNCE", "loan_type": "CRDTCARD"}, false},
		{"empty skipped", domain.Record{"facility_type": "", "loan_type": "CRDTCARD"}, true},
		{"lower case code", domain.Record{"facility_type": "crdtcard"}, false},
		{"blank is not empty", domain.Record{"facility_type": " ", "loan_type": "CRDTCARD"}, false},
		{"display name is not a code", domain.Record{"loantype": "Credit Card"}, false},
		{"no facility", domain.Record{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.IsRevolving(tc.rec))
		})
	}
}
