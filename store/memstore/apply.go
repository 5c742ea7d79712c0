package memstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jacentio/arbor/store"
)

// applyRaw mutates doc in place. Clauses run in canonical order; paths are
// unique across clauses so the order is not observable.
func applyRaw(doc store.Document, u store.RawOperator) error {
	for _, op := range u.Operators() {
		for path, value := range u[op] {
			parent, leaf, err := walk(doc, path)
			if err != nil {
				return err
			}
			switch op {
			case store.OpSet:
				parent[leaf] = normalize(value)
			case store.OpRemove:
				delete(parent, leaf)
			case store.OpAdd:
				if err := add(parent, leaf, value); err != nil {
					return fmt.Errorf("%s %s: %w", op, path, err)
				}
			case store.OpDeleteMembers:
				remaining := difference(toStrings(parent[leaf]), toStrings(value))
				setOrDrop(parent, leaf, remaining)
			}
		}
	}
	return nil
}

// walk returns the map holding the last path segment. Every intermediate
// segment must already be a map, as DynamoDB requires for document paths.
func walk(doc store.Document, path string) (map[string]any, string, error) {
	segs := strings.Split(path, ".")
	cur := map[string]any(doc)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok {
			return nil, "", fmt.Errorf("path %q: missing map %q", path, seg)
		}
		switch m := next.(type) {
		case map[string]any:
			cur = m
		case store.Document:
			cur = m
		default:
			return nil, "", fmt.Errorf("path %q crosses non-map field %q", path, seg)
		}
	}
	return cur, segs[len(segs)-1], nil
}

func add(parent map[string]any, leaf string, value any) error {
	if n, ok := store.ToFloat(value); ok {
		cur := 0.0
		if existing, present := parent[leaf]; present {
			c, ok := store.ToFloat(existing)
			if !ok {
				return fmt.Errorf("existing value is %T, not a number", existing)
			}
			cur = c
		}
		parent[leaf] = cur + n
		return nil
	}
	parent[leaf] = union(toStrings(parent[leaf]), toStrings(value))
	return nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case store.StringSet:
		s := append(store.StringSet(nil), t...)
		sort.Strings(s)
		return s
	case map[string]any:
		return map[string]any(store.Document(t).Clone())
	}
	return v
}

func toStrings(v any) []string {
	return store.Document{"v": v}.StringSet("v")
}

func union(a, b []string) store.StringSet {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make(store.StringSet, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func difference(a, b []string) store.StringSet {
	drop := make(map[string]struct{}, len(b))
	for _, s := range b {
		drop[s] = struct{}{}
	}
	out := store.StringSet{}
	for _, s := range a {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// setOrDrop stores a set, removing the attribute when it becomes empty
// (DynamoDB cannot store empty sets).
func setOrDrop(m map[string]any, field string, set store.StringSet) {
	if len(set) == 0 {
		delete(m, field)
		return
	}
	m[field] = set
}
