// Package validation evaluates form fields and entity payloads against named
// rules and turns failures into user-facing messages.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownForm  = errors.New("validation: unknown form")
	ErrUnknownField = errors.New("validation: unknown field")
)

// ErrorMap holds the messages of every failing field, keyed by field name.
type ErrorMap map[string][]string

// Registry maps form keys onto live forms. Create one per application and
// pass it to whatever needs validation.
type Registry struct {
	mu       sync.RWMutex
	forms    map[string]*Form
	validate *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{forms: map[string]*Form{}, validate: newValidate()}
}

// Register binds form to key, replacing any previous binding.
func (r *Registry) Register(key string, form *Form) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forms[key] = form
}

// RemoveForm unregisters key.
func (r *Registry) RemoveForm(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.forms, key)
}

// Form returns the form bound to key.
func (r *Registry) Form(key string) (*Form, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.forms[key]
	return f, ok
}

// Validate evaluates every field of the form bound to key.
func (r *Registry) Validate(key string) (ErrorMap, error) {
	f, ok := r.Form(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownForm, key)
	}
	return r.ValidateForm(f), nil
}

// ValidateForm evaluates every field of f. Fields without failures are
// absent from the result.
func (r *Registry) ValidateForm(f *Form) ErrorMap {
	out := ErrorMap{}
	for _, fld := range f.snapshot() {
		for _, failure := range r.check(fld.value, fld.rules) {
			out[fld.name] = append(out[fld.name], Message(failure))
		}
	}
	return out
}

// Check runs rules against a single value.
func (r *Registry) Check(value string, rules ...Rule) []Failure {
	return r.check(value, rules)
}

func (r *Registry) check(value string, rules []Rule) []Failure {
	var failures []Failure
	for _, rule := range rules {
		if rule.failed(r.validate, value) {
			failures = append(failures, Failure{Kind: rule.kind, Param: rule.param})
		}
	}
	return failures
}

// ValidateStruct validates a tagged struct and returns its failures keyed by
// JSON field name. Nested slice elements are keyed by their path, as in
// "subtaskList[0].name". A nil map means s is valid.
func (r *Registry) ValidateStruct(s any) (ErrorMap, error) {
	err := r.validate.Struct(s)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	out := ErrorMap{}
	for _, e := range verrs {
		key := fieldKey(e)
		out[key] = append(out[key], Message(failureOf(e)))
	}
	return out, nil
}

func fieldKey(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	if strings.Contains(ns, "[") {
		return ns
	}
	return e.Field()
}
