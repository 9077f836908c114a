package domain

// Document is the wire representation of a stored entity.
type Document map[string]any

// Collection names a remote collection.
type Collection string

const (
	ContactsCollection Collection = "contacts"
	TasksCollection    Collection = "tasks"
	SubtasksCollection Collection = "subtasks"
	AccountsCollection Collection = "accounts"
)

// Entity is implemented by every stored model. The collection is part of the
// type so callers never need to inspect values to find where they live.
type Entity interface {
	Collection() Collection
	DocumentID() string
	ToDocument() Document
}

// ID returns the document id or an empty string.
func (d Document) ID() string { return d.String("id") }

// String returns the value under key, or "" when it is missing, not a string
// or empty.
func (d Document) String(key string) string {
	if v, ok := d[key].(string); ok && v != "" {
		return v
	}
	return ""
}

// Bool returns the value under key. def is used only when the key is absent or
// null; an explicit false is kept.
func (d Document) Bool(key string, def bool) bool {
	v, ok := d[key]
	if !ok || v == nil {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Strings returns a string slice stored under key. Decoded JSON arrays arrive
// as []any, values written in-process as []string.
func (d Document) Strings(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Op is the kind of write applied to a document.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)
