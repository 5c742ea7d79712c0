package hierarchy

import (
	"fmt"
	"strings"

	"github.com/jacentio/arbor/store"
)

// Level is one collection on a resource path.
type Level struct {
	// Collection holds the documents of this level.
	Collection string

	// ChildrenField is the string-set field listing the ids of the next
	// level's documents. Required on every level but the last; on the last
	// level it is used for orphan protection when set.
	ChildrenField string

	// BackRefField, if set, is written on this level's documents with the
	// id of their parent. Ignored on the first level.
	BackRefField string
}

// Path is an ordered list of levels, root first. Item operations take one
// id per level; collection operations take one id per ancestor level.
type Path struct {
	Name   string
	Levels []Level
}

// NewPath builds and validates a path. An empty name is derived from the
// collections ("orgs/projects").
func NewPath(name string, levels ...Level) (Path, error) {
	p := Path{Name: name, Levels: levels}
	if p.Name == "" {
		names := make([]string, len(levels))
		for i, l := range levels {
			names[i] = l.Collection
		}
		p.Name = strings.Join(names, "/")
	}
	return p, p.Validate()
}

// Validate checks that the path has at least one level, collection names
// are set and unique, and every ancestor level names its children field.
func (p Path) Validate() error {
	if len(p.Levels) == 0 {
		return fmt.Errorf("%w: no levels", ErrInvalidPath)
	}
	seen := make(map[string]bool, len(p.Levels))
	for i, l := range p.Levels {
		if l.Collection == "" {
			return fmt.Errorf("%w: level %d has no collection", ErrInvalidPath, i)
		}
		if seen[l.Collection] {
			return fmt.Errorf("%w: collection %s appears twice", ErrInvalidPath, l.Collection)
		}
		seen[l.Collection] = true

		if i < len(p.Levels)-1 && l.ChildrenField == "" {
			return fmt.Errorf("%w: level %s has no children field", ErrInvalidPath, l.Collection)
		}
		for _, f := range []string{l.ChildrenField, l.BackRefField} {
			if isReserved(f) {
				return fmt.Errorf("%w: level %s uses reserved field %s", ErrInvalidPath, l.Collection, f)
			}
		}
		if l.ChildrenField != "" && l.ChildrenField == l.BackRefField {
			return fmt.Errorf("%w: level %s uses %s for both children and back-reference", ErrInvalidPath, l.Collection, l.ChildrenField)
		}
	}
	return nil
}

// Depth is the number of ancestor levels above the leaf.
func (p Path) Depth() int {
	return len(p.Levels) - 1
}

// Leaf returns the last level.
func (p Path) Leaf() Level {
	return p.Levels[len(p.Levels)-1]
}

// Parent returns the level above the leaf. ok is false for single-level paths.
func (p Path) Parent() (Level, bool) {
	if len(p.Levels) < 2 {
		return Level{}, false
	}
	return p.Levels[len(p.Levels)-2], true
}

// checkItem validates ids for an operation on a single resource.
func (p Path) checkItem(op string, ids []string) error {
	return p.checkLength(op, ids, p.Depth()+1)
}

// checkCollection validates ids for an operation on the children of a parent.
func (p Path) checkCollection(op string, ids []string) error {
	return p.checkLength(op, ids, p.Depth())
}

func (p Path) checkLength(op string, ids []string, want int) error {
	if len(ids) != want {
		return &PathLengthError{Op: op, Path: p.Name, Expected: want, Actual: len(ids)}
	}
	for i, id := range ids {
		if id == "" {
			return &ResourceError{Op: op, Collection: p.Levels[i].Collection, IDs: ids, Err: fmt.Errorf("%w: empty id at level %d", ErrNotFound, i)}
		}
	}
	return nil
}

// refs maps ids to their documents, level by level from the root.
func (p Path) refs(ids []string) []store.Ref {
	refs := make([]store.Ref, len(ids))
	for i, id := range ids {
		refs[i] = store.Ref{Collection: p.Levels[i].Collection, ID: id}
	}
	return refs
}

// managed reports whether a top-level field on leaf documents is maintained
// by the coordinator.
func (p Path) managed(field string) bool {
	if isReserved(field) {
		return true
	}
	leaf := p.Leaf()
	if leaf.ChildrenField != "" && leaf.ChildrenField == field {
		return true
	}
	return p.Depth() > 0 && leaf.BackRefField != "" && leaf.BackRefField == field
}

func isReserved(field string) bool {
	return field == store.FieldID || field == store.FieldMeta
}
