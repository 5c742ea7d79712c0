package hierarchy_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jacentio/arbor/hierarchy"
)

func TestRegistry_Register(t *testing.T) {
	r := hierarchy.NewRegistry()
	if err := r.Register(tasksPath(t)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(projectsPath(t)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := r.Register(tasksPath(t)); !errors.Is(err, hierarchy.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for duplicate name, got %v", err)
	}

	unnamed := hierarchy.Path{Levels: []hierarchy.Level{{Collection: "orgs"}}}
	if err := r.Register(unnamed); !errors.Is(err, hierarchy.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath for unnamed path, got %v", err)
	}

	if names := r.Names(); !reflect.DeepEqual(names, []string{"projects", "tasks"}) {
		t.Errorf("expected [projects tasks], got %v", names)
	}
	p, ok := r.Get("tasks")
	if !ok || p.Depth() != 2 {
		t.Errorf("expected tasks path of depth 2, got %+v (found %v)", p, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing path to be absent")
	}
}

func TestRegistry_Lookups(t *testing.T) {
	r := hierarchy.NewRegistry()
	for _, p := range []hierarchy.Path{projectsPath(t), tasksPath(t)} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	tests := []struct {
		collection  string
		paths       []string
		hasChildren bool
	}{
		{"orgs", nil, true},
		{"projects", []string{"projects"}, true},
		{"tasks", []string{"tasks"}, false},
		{"unknown", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.collection, func(t *testing.T) {
			var names []string
			for _, p := range r.ForCollection(tt.collection) {
				names = append(names, p.Name)
			}
			if !reflect.DeepEqual(names, tt.paths) {
				t.Errorf("expected paths %v, got %v", tt.paths, names)
			}
			if got := r.HasChildren(tt.collection); got != tt.hasChildren {
				t.Errorf("expected HasChildren %v, got %v", tt.hasChildren, got)
			}
		})
	}
}
