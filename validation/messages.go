package validation

import "github.com/go-playground/validator/v10"

// DefaultMessage is shown for failure kinds without a table entry.
const DefaultMessage = "Invalid value"

var messages = map[Kind]func(param string) string{
	KindRequired:       func(string) string { return "This field is required" },
	KindMinLength:      func(p string) string { return "Must be at least " + p + " characters" },
	KindEmail:          func(string) string { return "Invalid email format" },
	KindTel:            func(string) string { return "Phone number must look like 0171 123456789" },
	KindPattern:        func(string) string { return "Invalid format" },
	KindFirstUpperCase: func(string) string { return "Names must start with a capital letter" },
	KindDateFormat:     func(string) string { return "Date must be MM/DD/YYYY" },
	KindDateInPast:     func(string) string { return "Date must not be in the past" },
	KindSubtaskExists:  func(string) string { return "Subtask already exists" },
	KindOneOf:          func(p string) string { return "Must be one of: " + p },
}

// Message returns the user-facing text for a failure.
func Message(f Failure) string {
	if m, ok := messages[f.Kind]; ok {
		return m(f.Param)
	}
	return DefaultMessage
}

// tagKinds maps validator tags used on entity structs onto failure kinds.
var tagKinds = map[string]Kind{
	"strictrequired": KindRequired,
	"required":       KindRequired,
	"min":            KindMinLength,
	"email":          KindEmail,
	"tel":            KindTel,
	"firstuppercase": KindFirstUpperCase,
	"dateformat":     KindDateFormat,
	"oneof":          KindOneOf,
}

func failureOf(e validator.FieldError) Failure {
	kind, ok := tagKinds[e.Tag()]
	if !ok {
		kind = Kind(e.Tag())
	}
	return Failure{Kind: kind, Param: e.Param()}
}
