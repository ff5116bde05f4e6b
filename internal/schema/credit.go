package schema

// Facility codes used by the bureau.
const (
	FacilityCreditCard  = "CRDTCARD"
	FacilityOverdraft   = "OVRDRAFT"
	FacilityHousingLoan = "HSLNFNCE"
	FacilityCarLoan     = "PCPASCAR"
	FacilityOtherTerm   = "OTLNFNCE"
	FacilityMicroEnt    = "MICROEFN"
	FacilityBNPL        = "BUYNPAYL"
)

var creditVariables = []Variable{
	// Loan level
	{"creditutilizationratio", Number, 0.0},
	{"balance", Number, 0.0},
	{"limit", Number, 0.0},
	{"utilization", Number, 0.0},
	{"payment_conduct_code", Integer, int64(0)},
	{"mon_arrears", Integer, int64(0)},
	{"inst_arrears", Integer, int64(0)},

	// Portfolio level
	{"numberofloans", Integer, int64(0)},
	{"numapplicationslast12months", Integer, int64(0)},
	{"numpendingapplications", Integer, int64(0)},
	{"numapprovedapplications", Integer, int64(0)},
	{"distinct_account_types", Integer, int64(0)},
	{"oldest_account_months", Integer, int64(0)},
	{"oldest_account_years", Number, 0.0},
	{"accounts_per_lender", Integer, int64(0)},
	{"secured_loan_ratio", Number, 0.0},
	{"recent_enquiries", Integer, int64(0)},
	{"application_decline_rate", Number, 0.0},
	{"ctos_score", Integer, int64(0)},

	// Trade references
	{"trade_ref_amount_overdue", Number, 0.0},
	{"trade_ref_reminder_count", Integer, int64(0)},

	// Legal
	{"legal_cases_settled", Integer, int64(0)},
	{"legal_cases_active", Integer, int64(0)},
	{"director_windingup_company", Integer, int64(0)},

	// Flags
	{"has_credit_card", Bool, false},
	{"has_installment_loan", Bool, false},
	{"bankruptcy_active", Bool, false},
	{"payment_conduct_all_zero", Bool, false},
	{"is_revolving", Bool, false},
	{"is_secured", Bool, false},

	// Descriptive
	{"facility_type", String, ""},
	{"loantype", String, ""},
	{"loan_type", String, ""},
	{"lendertype", String, ""},
	{"lender", String, ""},
	{"account_type", String, ""},
	{"aging_bucket", String, ""},
	{"case_details", String, ""},
	{"case_types", String, ""},
	{"company_name", String, ""},
	{"lender_name", String, ""},
	{"status", String, ""},

	// Template aliases and personal info
	{"Facility", String, ""},
	{"Lender_Type", String, ""},
	{"name", String, ""},
	{"ic_number", String, ""},
}

// Keys whose presence marks a record as portfolio-level.
var aggregateIndicators = []string{
	"numberofloans",
	"numapplicationslast12months",
	"distinct_account_types",
	"trade_ref_amount_overdue",
	"legal_cases_settled",
	"legal_cases_active",
}

// Variables that only exist on the aggregate record. Used to route rules
// whose group gives no routing decision.
var aggregateOnlyVariables = []string{
	"numberofloans",
	"numapplicationslast12months",
	"numpendingapplications",
	"distinct_account_types",
	"oldest_account_months",
	"trade_ref_amount_overdue",
	"trade_ref_reminder_count",
	"legal_cases_settled",
	"legal_cases_active",
	"bankruptcy_active",
	"director_windingup_company",
	"ctos_score",
	"has_credit_card",
	"has_installment_loan",
	"accounts_per_lender",
	"secured_loan_ratio",
}

var facilityNames = map[string]string{
	FacilityOtherTerm:   "Other Term Loan",
	FacilityCreditCard:  "Credit Card",
	FacilityHousingLoan: "Housing Loan",
	FacilityCarLoan:     "Car Loan",
	FacilityOverdraft:   "Overdraft",
	FacilityMicroEnt:    "Micro Enterprise Fund",
	FacilityBNPL:        "Buy Now Pay Later",
}

// Default returns the credit report schema.
func Default() *Schema {
	s := New(creditVariables)
	for _, k := range aggregateIndicators {
		s.aggregateIndicators[k] = struct{}{}
	}
	s.aggregateOnly = append(s.aggregateOnly, aggregateOnlyVariables...)
	for _, c := range []string{FacilityCreditCard, FacilityOverdraft} {
		s.revolving[c] = struct{}{}
	}
	for _, c := range []string{FacilityHousingLoan, FacilityCarLoan, FacilityOtherTerm, FacilityMicroEnt} {
		s.installment[c] = struct{}{}
	}
	for code, name := range facilityNames {
		s.facilityNames[code] = name
	}
	return s
}
