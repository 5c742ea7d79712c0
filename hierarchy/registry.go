package hierarchy

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry holds the known resource paths by name. It is safe for
// concurrent use; paths are usually registered once at startup.
type Registry struct {
	paths *xsync.MapOf[string, Path]
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{paths: xsync.NewMapOf[string, Path]()}
}

// Register validates p and adds it under p.Name. Names must be unique.
func (r *Registry) Register(p Path) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("%w: path has no name", ErrInvalidPath)
	}
	if _, loaded := r.paths.LoadOrStore(p.Name, p); loaded {
		return fmt.Errorf("%w: path %s already registered", ErrInvalidPath, p.Name)
	}
	return nil
}

// Get returns the path registered under name.
func (r *Registry) Get(name string) (Path, bool) {
	return r.paths.Load(name)
}

// Names returns the registered path names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.paths.Size())
	r.paths.Range(func(name string, _ Path) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// ForCollection returns the paths whose leaf is collection, sorted by name.
func (r *Registry) ForCollection(collection string) []Path {
	var out []Path
	r.paths.Range(func(_ string, p Path) bool {
		if p.Leaf().Collection == collection {
			out = append(out, p)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasChildren reports whether any registered path nests another level
// under collection.
func (r *Registry) HasChildren(collection string) bool {
	found := false
	r.paths.Range(func(_ string, p Path) bool {
		for _, l := range p.Levels[:p.Depth()] {
			if l.Collection == collection {
				found = true
				return false
			}
		}
		return true
	})
	return found
}
