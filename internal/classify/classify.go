// Package classify determines the structural type of a normalized record.
package classify

import (
	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/schema"
)

// facilityKeys are checked in order; the first non-empty value wins.
var facilityKeys = []string{"facility_type", "loan_type", "loantype"}

// Classifier inspects records against a schema.
type Classifier struct {
	schema *schema.Schema
}

// New creates a classifier.
func New(s *schema.Schema) *Classifier {
	return &Classifier{schema: s}
}

// Classify returns aggregate when the record carries any aggregate
// indicator key, loan when it carries a facility type, and loan otherwise.
func (c *Classifier) Classify(record domain.Record) domain.RecordType {
	for key := range record {
		if c.schema.IsAggregateIndicator(key) {
			return domain.RecordAggregate
		}
	}
	// A facility key marks a loan; a record with neither defaults to loan too.
	return domain.RecordLoan
}

// FacilityType returns the record's facility code from the first non-empty alias.
func (c *Classifier) FacilityType(record domain.Record) string {
	for _, key := range facilityKeys {
		if v := record.String(key); v != "" {
			return v
		}
	}
	return ""
}

// IsRevolving reports whether the record's facility is a credit card or overdraft.
func (c *Classifier) IsRevolving(record domain.Record) bool {
	return c.schema.IsRevolvingFacility(c.FacilityType(record))
}
