package hierarchy

import (
	"fmt"
	"reflect"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/jacentio/arbor/store"
)

// Filter selects documents in Find.
type Filter interface {
	Matches(doc store.Document) (bool, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(doc store.Document) (bool, error)

func (f FilterFunc) Matches(doc store.Document) (bool, error) {
	return f(doc)
}

type fieldMatch map[string]any

// Match returns a filter that keeps documents whose fields equal every
// given value. Keys may be dotted paths into nested maps. Numbers compare
// by value regardless of their Go type.
func Match(fields map[string]any) Filter {
	return fieldMatch(fields)
}

func (m fieldMatch) Matches(doc store.Document) (bool, error) {
	for path, want := range m {
		got, ok := doc.Lookup(path)
		if !ok {
			if want == nil {
				continue
			}
			return false, nil
		}
		if !equal(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func equal(a, b any) bool {
	if set, ok := a.(store.StringSet); ok {
		a = []string(set)
	}
	if set, ok := b.(store.StringSet); ok {
		b = []string(set)
	}
	if fa, ok := store.ToFloat(a); ok {
		fb, ok := store.ToFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// ExprFilter evaluates a boolean expr-lang expression against each document.
// Document fields are top-level variables; fields a document lacks are nil.
type ExprFilter struct {
	source  string
	program *exprvm.Program
}

// ExprError reports an expression that failed to compile or evaluate.
type ExprError struct {
	Expression string
	DocumentID string
	Err        error
}

func (e *ExprError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("expression %q on %s: %v", e.Expression, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("expression %q: %v", e.Expression, e.Err)
}

func (e *ExprError) Unwrap() error {
	return e.Err
}

// Expr compiles source into a filter.
//
//	f, err := hierarchy.Expr(`status == "active" && priority > 2`)
func Expr(source string) (*ExprFilter, error) {
	if source == "" {
		return nil, &ExprError{Expression: source, Err: fmt.Errorf("expression must not be empty")}
	}
	program, err := exprlang.Compile(source,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, &ExprError{Expression: source, Err: err}
	}
	return &ExprFilter{source: source, program: program}, nil
}

// String returns the expression source.
func (f *ExprFilter) String() string {
	return f.source
}

func (f *ExprFilter) Matches(doc store.Document) (bool, error) {
	out, err := exprlang.Run(f.program, map[string]any(doc))
	if err != nil {
		return false, &ExprError{Expression: f.source, DocumentID: doc.ID(), Err: err}
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, &ExprError{Expression: f.source, DocumentID: doc.ID(), Err: fmt.Errorf("result is %T, not bool", out)}
	}
	return ok, nil
}
