package domain

// Record is a flat mapping from variable name to scalar value.
// A report carries N loan records followed by one aggregate record.
type Record map[string]any

// RecordType is the structural shape of a record.
type RecordType string

const (
	// RecordLoan describes a single credit facility.
	RecordLoan RecordType = "loan"

	// RecordAggregate describes portfolio-wide facts for the report subject.
	RecordAggregate RecordType = "aggregate"
)

// NormalizedReport is the record set produced by the extraction layer.
type NormalizedReport struct {
	Records      []Record       `json:"records"`
	PersonalInfo map[string]any `json:"personal_info"`
}

// SubjectName returns the report subject's name, or "" if absent.
func (n *NormalizedReport) SubjectName() string {
	if n == nil || n.PersonalInfo == nil {
		return ""
	}
	name, _ := n.PersonalInfo["name"].(string)
	return name
}

// Clone returns a copy of the record. Values are scalars so a shallow copy suffices.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value of key as a string when it holds one.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Has reports whether key is present in the record.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}
