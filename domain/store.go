package domain

import "context"

// Fields holds a document's user fields. Values are string, int, int64 or
// []string.
type Fields map[string]any

// Document is a stored record together with its path.
type Document struct {
	Path   Path
	Fields Fields
}

// ID is the document id.
func (d Document) ID() string { return d.Path.ID() }

// Condition guards UpdateIf: the stored value of Field must equal Equals.
type Condition struct {
	Field  string
	Equals any
}

// Store is the persistence contract shared by every storage backend.
//
// Writes create intermediate collections implicitly. Reads never fail because
// nothing matched: a missing document is found=false, a missing collection is
// an empty slice. Each write is atomic for its own document only.
type Store interface {
	Put(ctx context.Context, path Path, fields Fields) error
	Create(ctx context.Context, path Path, fields Fields) error
	Get(ctx context.Context, path Path) (Document, bool, error)
	List(ctx context.Context, collection Path) ([]Document, error)
	QueryByEquality(ctx context.Context, collection Path, field, value string) ([]Document, error)
	QueryByArrayMembership(ctx context.Context, collection Path, field, value string) ([]Document, error)
	UpdateIf(ctx context.Context, path Path, cond Condition, fields Fields) (Document, error)
	AddToSet(ctx context.Context, path Path, field string, values []string) (Document, error)
}

// CloneFields returns a copy of f, copying slices so callers cannot alias
// stored values.
func CloneFields(f Fields) Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// StringField reads a string value.
func (f Fields) StringField(name string) string {
	s, _ := f[name].(string)
	return s
}

// IntField reads an integer value from any numeric representation a backend
// may hand back.
func (f Fields) IntField(name string) int64 {
	switch v := f[name].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// StringsField reads a []string value.
func (f Fields) StringsField(name string) []string {
	switch v := f[name].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// Matches reports whether value equals the stored field, comparing numbers
// by value.
func (c Condition) Matches(f Fields) bool {
	switch want := c.Equals.(type) {
	case int, int32, int64, float64:
		if _, ok := f[c.Field]; !ok {
			return false
		}
		return f.IntField(c.Field) == Fields{"v": want}.IntField("v")
	case string:
		got, ok := f[c.Field].(string)
		return ok && got == want
	default:
		return false
	}
}
