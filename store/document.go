package store

import (
	"sort"
	"strings"
	"time"
)

// Managed field names.
const (
	// FieldID is the primary key of every document.
	FieldID = "id"

	// FieldMeta holds the created_at/updated_at timestamps.
	FieldMeta = "_meta_data"

	// FieldCreatedAt is the creation timestamp inside FieldMeta.
	FieldCreatedAt = "created_at"

	// FieldUpdatedAt is the last update timestamp inside FieldMeta.
	FieldUpdatedAt = "updated_at"

	// FieldTTL is the expiry time in epoch seconds.
	FieldTTL = "ttl"
)

// Document is a stored resource. Nested maps are map[string]any.
type Document map[string]any

// StringSet is an unordered set of strings, stored natively as a set
// (DynamoDB SS) rather than a list.
type StringSet []string

// Ref locates a single document.
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// ID returns the document's id, or "" if unset.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// String returns a top-level string field.
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// StringSet returns the members of a set field in sorted order.
// Missing fields yield an empty result.
func (d Document) StringSet(field string) []string {
	return toStrings(d[field])
}

// HasMember reports whether the set field contains value.
func (d Document) HasMember(field, value string) bool {
	for _, v := range d.StringSet(field) {
		if v == value {
			return true
		}
	}
	return false
}

// Meta returns the managed timestamps.
func (d Document) Meta() (createdAt, updatedAt string) {
	meta, _ := d[FieldMeta].(map[string]any)
	if meta == nil {
		return "", ""
	}
	createdAt, _ = meta[FieldCreatedAt].(string)
	updatedAt, _ = meta[FieldUpdatedAt].(string)
	return createdAt, updatedAt
}

// Lookup resolves a dotted path ("a.b.c") through nested maps.
func (d Document) Lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

// Timestamp formats t the way managed timestamps are stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewMeta returns a fresh _meta_data value for a document created at t.
func NewMeta(t time.Time) map[string]any {
	ts := Timestamp(t)
	return map[string]any{
		FieldCreatedAt: ts,
		FieldUpdatedAt: ts,
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Document:
		return Document(cloneMap(t))
	case StringSet:
		return append(StringSet(nil), t...)
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func toStrings(v any) []string {
	var out []string
	switch t := v.(type) {
	case StringSet:
		out = append(out, t...)
	case []string:
		out = append(out, t...)
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = []string{t}
	}
	sort.Strings(out)
	return out
}
