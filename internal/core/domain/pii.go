package domain

// PII categories reported by classifiers.
const (
	PIIPerson       = "person"
	PIILocation     = "location"
	PIIOrganization = "organization"
	PIIEmail        = "email"
	PIIPhone        = "phone"
	PIINationalID   = "national_id"
	PIIAccount      = "account_number"
	PIICredential   = "credential"
)

// PIIEntity is a span of personally identifiable information.
// Start and End are rune offsets into the classified text, End exclusive.
type PIIEntity struct {
	Category string
	Text     string
	Start    int
	End      int
	Score    float64
}
