package validation

import (
	"fmt"
	"sort"
	"sync"
)

// Field is a named input with its rules.
type Field struct {
	Name  string
	Rules []Rule
	value string
}

// Form is an ordered set of fields whose values change over time.
// Subscribers are told about every Set.
type Form struct {
	mu     sync.RWMutex
	fields []*Field
	index  map[string]*Field

	subMu  sync.Mutex
	subs   map[int]func(field, value string)
	nextID int
}

// NewForm creates a form with the given fields in order.
func NewForm(fields ...*Field) *Form {
	f := &Form{index: make(map[string]*Field, len(fields)), subs: map[int]func(string, string){}}
	for _, fld := range fields {
		f.fields = append(f.fields, fld)
		f.index[fld.Name] = fld
	}
	return f
}

// NewField creates a field.
func NewField(name string, rules ...Rule) *Field {
	return &Field{Name: name, Rules: rules}
}

// Set changes a field value and notifies subscribers.
func (f *Form) Set(name, value string) error {
	f.mu.Lock()
	fld, ok := f.index[name]
	if ok {
		fld.value = value
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}

	f.subMu.Lock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string, string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.subs[id])
	}
	f.subMu.Unlock()

	for _, fn := range fns {
		fn(name, value)
	}
	return nil
}

// Value returns the current value of a field.
func (f *Form) Value(name string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if fld, ok := f.index[name]; ok {
		return fld.value
	}
	return ""
}

// Values returns all field values.
func (f *Form) Values() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.fields))
	for _, fld := range f.fields {
		out[fld.Name] = fld.value
	}
	return out
}

// Reset clears every value without notifying subscribers.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fld := range f.fields {
		fld.value = ""
	}
}

// Subscribe registers fn for value changes and returns a function removing it.
func (f *Form) Subscribe(fn func(field, value string)) func() {
	f.subMu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.subMu.Lock()
			delete(f.subs, id)
			f.subMu.Unlock()
		})
	}
}

type fieldSnapshot struct {
	name  string
	value string
	rules []Rule
}

func (f *Form) snapshot() []fieldSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]fieldSnapshot, len(f.fields))
	for i, fld := range f.fields {
		out[i] = fieldSnapshot{name: fld.Name, value: fld.value, rules: fld.Rules}
	}
	return out
}
