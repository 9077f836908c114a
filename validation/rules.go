package validation

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind names a failure. Messages are looked up by kind.
type Kind string

const (
	KindRequired       Kind = "required"
	KindMinLength      Kind = "minlength"
	KindEmail          Kind = "email"
	KindTel            Kind = "tel"
	KindPattern        Kind = "pattern"
	KindFirstUpperCase Kind = "firstuppercase"
	KindDateFormat     Kind = "dateformat"
	KindDateInPast     Kind = "dateinpast"
	KindSubtaskExists  Kind = "subtaskexists"
	KindOneOf          Kind = "oneof"
)

// DateLayout is the input format of date fields.
const DateLayout = "01/02/2006"

var (
	telRegex       = regexp.MustCompile(`^0\d+ \d+$`)
	nameWordRegex  = regexp.MustCompile(`^\p{Lu}\p{Ll}+$`)
	dateShapeRegex = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
)

// Failure is one failed rule on a field.
type Failure struct {
	Kind  Kind
	Param string
}

// Rule checks a field value. Rules backed by a validator tag run on the
// registry's engine; the others are plain predicates.
type Rule struct {
	kind  Kind
	param string
	tag   string
	check func(value string) bool
}

// Kind returns the failure kind the rule reports.
func (r Rule) Kind() Kind { return r.kind }

func (r Rule) failed(v *validator.Validate, value string) bool {
	if r.check != nil {
		return !r.check(value)
	}
	return v.Var(value, r.tag) != nil
}

// StrictRequired fails on empty and whitespace-only values.
func StrictRequired() Rule {
	return Rule{kind: KindRequired, tag: "strictrequired"}
}

// CustomMinLength fails on values shorter than n characters.
func CustomMinLength(n int) Rule {
	p := strconv.Itoa(n)
	return Rule{kind: KindMinLength, param: p, tag: "omitempty,min=" + p}
}

func Email() Rule {
	return Rule{kind: KindEmail, tag: "omitempty,email"}
}

// Tel accepts numbers like "0171 123456789".
func Tel() Rule {
	return Rule{kind: KindTel, tag: "omitempty,tel"}
}

// FirstUpperCase requires every space or hyphen separated word to be
// capitalized, as in "Anna-Maria".
func FirstUpperCase() Rule {
	return Rule{kind: KindFirstUpperCase, tag: "omitempty,firstuppercase"}
}

// Pattern fails on non-empty values not matching re.
func Pattern(re *regexp.Regexp) Rule {
	return Rule{kind: KindPattern, param: re.String(), check: func(value string) bool {
		return value == "" || re.MatchString(value)
	}}
}

// DateFormat fails unless the value is a valid MM/DD/YYYY date.
func DateFormat() Rule {
	return Rule{kind: KindDateFormat, tag: "omitempty,dateformat"}
}

// DateInPast fails on dates before yesterday according to now. Malformed
// dates are left to DateFormat.
func DateInPast(now func() time.Time) Rule {
	if now == nil {
		now = time.Now
	}
	return Rule{kind: KindDateInPast, check: func(value string) bool {
		d, ok := parseDate(value)
		if !ok {
			return true
		}
		t := now()
		yesterday := time.Date(t.Year(), t.Month(), t.Day()-1, 0, 0, 0, 0, time.UTC)
		return !d.Before(yesterday)
	}}
}

// SubtaskExist fails when lookup already holds a subtask with this name.
func SubtaskExist(lookup func() []string) Rule {
	return Rule{kind: KindSubtaskExists, check: func(value string) bool {
		name := strings.TrimSpace(value)
		if name == "" || lookup == nil {
			return true
		}
		for _, existing := range lookup() {
			if strings.TrimSpace(existing) == name {
				return false
			}
		}
		return true
	}}
}

func parseDate(value string) (time.Time, bool) {
	if !dateShapeRegex.MatchString(value) {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func isStrictRequired(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() == reflect.String {
		return strings.TrimSpace(f.String()) != ""
	}
	return !f.IsZero()
}

func isTel(fl validator.FieldLevel) bool {
	return telRegex.MatchString(fl.Field().String())
}

func isFirstUpperCase(fl validator.FieldLevel) bool {
	words := strings.FieldsFunc(fl.Field().String(), func(r rune) bool { return r == ' ' || r == '-' })
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !nameWordRegex.MatchString(w) {
			return false
		}
	}
	return true
}

func isDateFormat(fl validator.FieldLevel) bool {
	_, ok := parseDate(fl.Field().String())
	return ok
}

// newValidate returns a validator with the custom tags registered and JSON
// names used for struct fields.
func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(v.RegisterValidation("strictrequired", isStrictRequired, true))
	must(v.RegisterValidation("tel", isTel))
	must(v.RegisterValidation("firstuppercase", isFirstUpperCase))
	must(v.RegisterValidation("dateformat", isDateFormat))
	return v
}
