package store_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jacentio/arbor/store"
)

func TestDocument_Accessors(t *testing.T) {
	doc := store.Document{
		"id":       "p1",
		"name":     "website",
		"tags":     store.StringSet{"b", "a"},
		"members":  []any{"x", 1, "y"},
		"settings": map[string]any{"theme": map[string]any{"color": "blue"}},
		"_meta_data": map[string]any{
			"created_at": "2026-01-01T00:00:00Z",
			"updated_at": "2026-01-02T00:00:00Z",
		},
	}

	if doc.ID() != "p1" {
		t.Errorf("expected id p1, got %q", doc.ID())
	}
	if doc.String("name") != "website" {
		t.Errorf("expected name website, got %q", doc.String("name"))
	}
	if doc.String("missing") != "" {
		t.Errorf("expected empty string, got %q", doc.String("missing"))
	}
	if got := doc.StringSet("tags"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected sorted [a b], got %v", got)
	}
	if got := doc.StringSet("members"); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("expected [x y], got %v", got)
	}
	if !doc.HasMember("tags", "a") || doc.HasMember("tags", "c") {
		t.Error("expected tags to contain a and not c")
	}

	createdAt, updatedAt := doc.Meta()
	if createdAt != "2026-01-01T00:00:00Z" || updatedAt != "2026-01-02T00:00:00Z" {
		t.Errorf("unexpected meta %q %q", createdAt, updatedAt)
	}
	if c, u := (store.Document{}).Meta(); c != "" || u != "" {
		t.Errorf("expected empty meta, got %q %q", c, u)
	}
}

func TestDocument_Lookup(t *testing.T) {
	doc := store.Document{
		"a": map[string]any{"b": map[string]any{"c": 1}},
		"s": "scalar",
	}

	tests := []struct {
		path  string
		value any
		ok    bool
	}{
		{"a.b.c", 1, true},
		{"s", "scalar", true},
		{"a.x", nil, false},
		{"s.deeper", nil, false},
		{"missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, ok := doc.Lookup(tt.path)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && v != tt.value {
				t.Errorf("expected %v, got %v", tt.value, v)
			}
		})
	}
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := store.Document{
		"id":     "p1",
		"nested": map[string]any{"k": "v"},
		"tags":   store.StringSet{"a"},
		"list":   []any{map[string]any{"x": 1}},
	}
	clone := doc.Clone()

	clone["nested"].(map[string]any)["k"] = "changed"
	clone["tags"].(store.StringSet)[0] = "changed"
	clone["list"].([]any)[0].(map[string]any)["x"] = 2

	if doc["nested"].(map[string]any)["k"] != "v" {
		t.Error("expected nested map to be copied")
	}
	if doc["tags"].(store.StringSet)[0] != "a" {
		t.Error("expected string set to be copied")
	}
	if doc["list"].([]any)[0].(map[string]any)["x"] != 1 {
		t.Error("expected list elements to be copied")
	}
	if store.Document(nil).Clone() != nil {
		t.Error("expected nil clone of nil document")
	}
}

func TestNewMeta(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	meta := store.NewMeta(now)

	expected := "2026-03-01T11:00:00Z"
	if meta["created_at"] != expected || meta["updated_at"] != expected {
		t.Errorf("expected both timestamps %s in UTC, got %v", expected, meta)
	}
}

func TestTTL(t *testing.T) {
	now := time.Unix(1_000, 0)

	tests := []struct {
		name    string
		doc     store.Document
		expired bool
	}{
		{"no ttl", store.Document{}, false},
		{"past", store.Document{"ttl": int64(999)}, true},
		{"now", store.Document{"ttl": int64(1_000)}, true},
		{"future", store.Document{"ttl": int64(1_001)}, false},
		{"float", store.Document{"ttl": float64(500)}, true},
		{"numeric string", store.Document{"ttl": "2000"}, false},
		{"unparseable string", store.Document{"ttl": "soon"}, false},
		{"wrong type", store.Document{"ttl": true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.IsExpired(tt.doc, now); got != tt.expired {
				t.Errorf("expected %v, got %v", tt.expired, got)
			}
		})
	}
}

func TestExpiresAt_RoundsUp(t *testing.T) {
	base := time.Unix(1_000, 0)

	if got := store.ExpiresAt(base, 5*time.Second); got != 1_005 {
		t.Errorf("expected 1005, got %d", got)
	}
	if got := store.ExpiresAt(base, 1500*time.Millisecond); got != 1_002 {
		t.Errorf("expected 1002, got %d", got)
	}
}

func TestAsRaw(t *testing.T) {
	tests := []struct {
		name    string
		update  store.Update
		wantErr bool
	}{
		{"field set", store.FieldSet{"name": "x"}, false},
		{"empty field set", store.FieldSet{}, true},
		{"dotted field set key", store.FieldSet{"a.b": 1}, true},
		{"raw set", store.RawOperator{store.OpSet: {"a.b": 1}}, false},
		{"raw add number", store.RawOperator{store.OpAdd: {"count": 1}}, false},
		{"raw add set", store.RawOperator{store.OpAdd: {"tags": store.StringSet{"a"}}}, false},
		{"raw add string", store.RawOperator{store.OpAdd: {"tags": "a"}}, true},
		{"raw delete number", store.RawOperator{store.OpDeleteMembers: {"tags": 1}}, true},
		{"raw unknown operator", store.RawOperator{"PUT": {"a": 1}}, true},
		{"raw empty clause", store.RawOperator{store.OpSet: {}}, true},
		{"raw bad path", store.RawOperator{store.OpSet: {"a..b": 1}}, true},
		{"raw duplicate path", store.RawOperator{store.OpSet: {"a": 1}, store.OpRemove: {"a": nil}}, true},
		{"nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AsRaw(tt.update)
			if tt.wantErr {
				if !errors.Is(err, store.ErrInvalidUpdate) {
					t.Errorf("expected ErrInvalidUpdate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRawOperator_OperatorsAndFields(t *testing.T) {
	raw := store.RawOperator{
		store.OpDeleteMembers: {"tags": store.StringSet{"a"}},
		store.OpSet:    {"name": "x", "a.b": 1},
	}

	if got := raw.Operators(); !reflect.DeepEqual(got, []store.Operator{store.OpSet, store.OpDeleteMembers}) {
		t.Errorf("expected [SET DELETE], got %v", got)
	}
	if got := raw.Fields(); !reflect.DeepEqual(got, []string{"a.b", "name", "tags"}) {
		t.Errorf("expected [a.b name tags], got %v", got)
	}

	with := raw.With(store.OpSet, "_meta_data.updated_at", "now")
	if _, ok := raw[store.OpSet]["_meta_data.updated_at"]; ok {
		t.Error("expected With to leave the original untouched")
	}
	if with[store.OpSet]["_meta_data.updated_at"] != "now" {
		t.Errorf("expected updated_at in copy, got %v", with[store.OpSet])
	}
}

func TestFieldSet_Raw(t *testing.T) {
	raw := store.FieldSet{"name": "x", "size": 2}.Raw()
	if len(raw) != 1 || len(raw[store.OpSet]) != 2 {
		t.Errorf("expected a single SET clause with 2 fields, got %v", raw)
	}
}

func TestTopLevel(t *testing.T) {
	if store.TopLevel("a.b.c") != "a" || store.TopLevel("a") != "a" {
		t.Error("expected first path segment")
	}
}

func TestTx_CommitPassesOps(t *testing.T) {
	var got []store.TxOp
	tx := store.NewTx(func(_ context.Context, ops []store.TxOp) error {
		got = ops
		return nil
	})

	tx.Insert("tasks", store.Document{"id": "t1"})
	tx.AddToSet("projects", "p1", "tasks", "t1")
	tx.Check("orgs", "o1", "projects", "p1")
	tx.Delete("other", "x", store.RequireEmpty("children"))

	if tx.Len() != 4 {
		t.Fatalf("expected 4 ops, got %d", tx.Len())
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 committed ops, got %d", len(got))
	}
	if got[0].ID != "t1" || got[0].Kind != store.OpInsert {
		t.Errorf("expected insert of t1, got %s", got[0])
	}
	if got[3].RequireEmpty != "children" {
		t.Errorf("expected RequireEmpty children, got %q", got[3].RequireEmpty)
	}

	if err := tx.Commit(context.Background()); !errors.Is(err, store.ErrTxClosed) {
		t.Errorf("expected ErrTxClosed, got %v", err)
	}
}

func TestTx_AbortDiscards(t *testing.T) {
	called := false
	tx := store.NewTx(func(context.Context, []store.TxOp) error {
		called = true
		return nil
	})
	tx.Insert("tasks", store.Document{"id": "t1"})
	tx.Abort()
	tx.Insert("tasks", store.Document{"id": "t2"})

	if tx.Len() != 0 {
		t.Errorf("expected no staged ops, got %d", tx.Len())
	}
	if err := tx.Commit(context.Background()); !errors.Is(err, store.ErrTxClosed) {
		t.Errorf("expected ErrTxClosed, got %v", err)
	}
	if called {
		t.Error("expected commit not to be called")
	}
}

func TestTx_CommitWrapsErrors(t *testing.T) {
	cause := errors.New("network down")
	tx := store.NewTx(func(context.Context, []store.TxOp) error { return cause })
	tx.Insert("tasks", store.Document{"id": "t1"})

	err := tx.Commit(context.Background())
	if !errors.Is(err, store.ErrTransactionAborted) {
		t.Errorf("expected ErrTransactionAborted, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be wrapped, got %v", err)
	}
	txErr, ok := store.AsTxError(err)
	if !ok || txErr.Index != -1 {
		t.Errorf("expected *TxError with index -1, got %v", err)
	}
}

func TestValidateOps(t *testing.T) {
	many := make([]store.TxOp, store.MaxTxOps+1)
	for i := range many {
		many[i] = store.TxOp{Kind: store.OpCheck, Collection: "c", ID: strings.Repeat("x", i+1)}
	}

	tests := []struct {
		name string
		ops  []store.TxOp
	}{
		{"empty", nil},
		{"too many", many},
		{"no target", []store.TxOp{{Kind: store.OpCheck, Collection: "c"}}},
		{"same document twice", []store.TxOp{
			{Kind: store.OpCheck, Collection: "c", ID: "1"},
			{Kind: store.OpDelete, Collection: "c", ID: "1"},
		}},
		{"set op without value", []store.TxOp{{Kind: store.OpAddToSet, Collection: "c", ID: "1", Field: "f"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.ValidateOps(tt.ops); !errors.Is(err, store.ErrInvalidTx) {
				t.Errorf("expected ErrInvalidTx, got %v", err)
			}
		})
	}

	bad := []store.TxOp{{Kind: store.OpUpdate, Collection: "c", ID: "1", Update: store.RawOperator{}}}
	if err := store.ValidateOps(bad); !errors.Is(err, store.ErrInvalidUpdate) {
		t.Errorf("expected ErrInvalidUpdate, got %v", err)
	}
}

func TestTxError(t *testing.T) {
	op := store.TxOp{Kind: store.OpAddToSet, Collection: "projects", ID: "p1", Field: "tasks", Value: "t1"}
	err := &store.TxError{Index: 1, Op: op, Reason: store.ReasonConditionFailed}

	expected := "arbor: transaction aborted at op 1 (add_to_set projects/p1 tasks[t1]): ConditionalCheckFailed"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !err.ConditionFailed() {
		t.Error("expected ConditionFailed")
	}
	if !errors.Is(err, store.ErrTransactionAborted) {
		t.Error("expected errors.Is ErrTransactionAborted")
	}

	var nilErr *store.TxError
	if nilErr.ConditionFailed() {
		t.Error("expected nil TxError not to report a condition failure")
	}
}

func TestOpKind_String(t *testing.T) {
	if store.OpRemoveFromSet.String() != "remove_from_set" {
		t.Errorf("expected remove_from_set, got %s", store.OpRemoveFromSet)
	}
	if store.OpKind(42).String() != "op(42)" {
		t.Errorf("expected op(42), got %s", store.OpKind(42))
	}
}
