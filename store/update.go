package store

import (
	"fmt"
	"sort"
	"strings"
)

// Update is a change applied to a single document. It is either a FieldSet
// or a RawOperator; the caller chooses which.
type Update interface {
	isUpdate()
}

// FieldSet replaces the listed top-level fields with new values.
type FieldSet map[string]any

// Operator names one clause of a RawOperator. The names follow the
// DynamoDB update expression actions.
type Operator string

const (
	// OpSet assigns values.
	OpSet Operator = "SET"

	// OpRemove deletes attributes; map values are ignored.
	OpRemove Operator = "REMOVE"

	// OpAdd adds to a number, or unions into a string set.
	OpAdd Operator = "ADD"

	// OpDeleteMembers removes members from a string set.
	OpDeleteMembers Operator = "DELETE"
)

var operatorOrder = []Operator{OpSet, OpRemove, OpAdd, OpDeleteMembers}

// RawOperator is a low-level update grouped by operator. Attribute names may
// be dotted paths into nested maps.
type RawOperator map[Operator]map[string]any

func (FieldSet) isUpdate()    {}
func (RawOperator) isUpdate() {}

// Fields returns the sorted field names.
func (f FieldSet) Fields() []string {
	return sortedKeys(f)
}

// Raw returns the equivalent RawOperator.
func (f FieldSet) Raw() RawOperator {
	set := make(map[string]any, len(f))
	for k, v := range f {
		set[k] = v
	}
	return RawOperator{OpSet: set}
}

// Operators returns the non-empty clauses in canonical order.
func (r RawOperator) Operators() []Operator {
	var ops []Operator
	for _, op := range operatorOrder {
		if len(r[op]) > 0 {
			ops = append(ops, op)
		}
	}
	return ops
}

// Fields returns every attribute path touched, sorted.
func (r RawOperator) Fields() []string {
	var out []string
	for _, clause := range r {
		out = append(out, sortedKeys(clause)...)
	}
	sort.Strings(out)
	return out
}

// With returns a copy of r with path assigned under op.
func (r RawOperator) With(op Operator, path string, value any) RawOperator {
	out := make(RawOperator, len(r)+1)
	for o, clause := range r {
		c := make(map[string]any, len(clause))
		for k, v := range clause {
			c[k] = v
		}
		out[o] = c
	}
	if out[op] == nil {
		out[op] = map[string]any{}
	}
	out[op][path] = value
	return out
}

// AsRaw normalizes an Update to its RawOperator form and validates it.
func AsRaw(u Update) (RawOperator, error) {
	switch t := u.(type) {
	case FieldSet:
		if len(t) == 0 {
			return nil, fmt.Errorf("%w: empty field set", ErrInvalidUpdate)
		}
		for k := range t {
			if k == "" || strings.Contains(k, ".") {
				return nil, fmt.Errorf("%w: field set key %q must be a top-level field", ErrInvalidUpdate, k)
			}
		}
		return t.Raw(), nil
	case RawOperator:
		return t, ValidateRaw(t)
	case nil:
		return nil, fmt.Errorf("%w: nil update", ErrInvalidUpdate)
	}
	return nil, fmt.Errorf("%w: unsupported update type %T", ErrInvalidUpdate, u)
}

// ValidateRaw checks operators are known, clauses are non-empty and no
// attribute path appears twice.
func ValidateRaw(r RawOperator) error {
	if len(r) == 0 {
		return fmt.Errorf("%w: empty operator", ErrInvalidUpdate)
	}
	seen := map[string]Operator{}
	for op, clause := range r {
		switch op {
		case OpSet, OpRemove, OpAdd, OpDeleteMembers:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidUpdate, op)
		}
		if len(clause) == 0 {
			return fmt.Errorf("%w: operator %s has no fields", ErrInvalidUpdate, op)
		}
		for path, v := range clause {
			if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
				return fmt.Errorf("%w: bad attribute path %q", ErrInvalidUpdate, path)
			}
			if prev, dup := seen[path]; dup {
				return fmt.Errorf("%w: %q used by both %s and %s", ErrInvalidUpdate, path, prev, op)
			}
			seen[path] = op
			if op == OpDeleteMembers && !isStrings(v) {
				return fmt.Errorf("%w: %s %q needs a string set value", ErrInvalidUpdate, op, path)
			}
			if op == OpAdd && !isStrings(v) && !isNumber(v) {
				return fmt.Errorf("%w: %s %q needs a number or string set value", ErrInvalidUpdate, op, path)
			}
		}
	}
	return nil
}

// TopLevel returns the first segment of a dotted attribute path.
func TopLevel(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

func isStrings(v any) bool {
	switch v.(type) {
	case StringSet, []string:
		return true
	}
	return false
}

func isNumber(v any) bool {
	_, ok := ToFloat(v)
	return ok
}

// ToFloat converts any Go numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
