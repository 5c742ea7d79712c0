package stream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/arbor/hierarchy"
	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/stream"
)

const projectsArn = "arn:aws:dynamodb:eu-west-1:123456789012:table/test-projects/stream/2026-01-01T00:00:00.000"

func projectsRegistry(t *testing.T) *hierarchy.Registry {
	t.Helper()
	p, err := hierarchy.NewPath("projects",
		hierarchy.Level{Collection: "orgs", ChildrenField: "projects"},
		hierarchy.Level{Collection: "projects", BackRefField: "org_id"},
	)
	if err != nil {
		t.Fatalf("NewPath failed: %v", err)
	}
	r := hierarchy.NewRegistry()
	if err := r.Register(p); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return r
}

func projectImage(name string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"id":     events.NewStringAttribute("p1"),
		"org_id": events.NewStringAttribute("o1"),
		"name":   events.NewStringAttribute(name),
		"tags":   events.NewStringSetAttribute([]string{"b", "a"}),
		"stats": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"runs": events.NewNumberAttribute("3"),
		}),
	}
}

func TestHandleRecords_DeliversEvents(t *testing.T) {
	var got []hierarchy.Event
	h := stream.NewHandler(projectsRegistry(t), stream.Config{TablePrefix: "test-"}, nil,
		hierarchy.ObserverFunc(func(_ context.Context, e hierarchy.Event) error {
			got = append(got, e)
			return nil
		}),
	)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	keys := map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("p1")}
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		{
			EventID:        "1",
			EventName:      "INSERT",
			EventSourceArn: projectsArn,
			Change: events.DynamoDBStreamRecord{
				ApproximateCreationDateTime: events.SecondsEpochTime{Time: at},
				Keys:                        keys,
				NewImage:                    projectImage("alpha"),
			},
		},
		{
			EventID:        "2",
			EventName:      "MODIFY",
			EventSourceArn: projectsArn,
			Change: events.DynamoDBStreamRecord{
				Keys:     keys,
				OldImage: projectImage("alpha"),
				NewImage: projectImage("beta"),
			},
		},
		{
			EventID:        "3",
			EventName:      "REMOVE",
			EventSourceArn: projectsArn,
			Change: events.DynamoDBStreamRecord{
				Keys:     keys,
				OldImage: projectImage("beta"),
			},
		},
	}}

	if err := h.HandleRecords(context.Background(), event); err != nil {
		t.Fatalf("HandleRecords failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}

	created := got[0]
	if created.Kind != hierarchy.EventCreated || created.Path != "projects" || created.Collection != "projects" {
		t.Errorf("unexpected created event %+v", created)
	}
	if !created.At.Equal(at) {
		t.Errorf("expected At %s, got %s", at, created.At)
	}
	if len(created.IDs) != 2 || created.IDs[0] != "o1" || created.IDs[1] != "p1" {
		t.Errorf("expected ids [o1 p1], got %v", created.IDs)
	}
	if created.Before != nil {
		t.Errorf("expected no before image, got %v", created.Before)
	}
	if !created.After.HasMember("tags", "a") {
		t.Errorf("expected tags decoded as a set, got %v", created.After["tags"])
	}
	if runs, _ := created.After.Lookup("stats.runs"); runs != float64(3) {
		t.Errorf("expected stats.runs 3, got %v", runs)
	}

	updated := got[1]
	if updated.Kind != hierarchy.EventUpdated ||
		updated.Before.String("name") != "alpha" || updated.After.String("name") != "beta" {
		t.Errorf("unexpected updated event %+v", updated)
	}

	deleted := got[2]
	if deleted.Kind != hierarchy.EventDeleted || deleted.After != nil || deleted.ID() != "p1" {
		t.Errorf("unexpected deleted event %+v", deleted)
	}
}

func TestHandleRecords_SkipsUnregisteredTables(t *testing.T) {
	called := false
	h := stream.NewHandler(projectsRegistry(t), stream.Config{TablePrefix: "test-"}, nil,
		hierarchy.ObserverFunc(func(context.Context, hierarchy.Event) error {
			called = true
			return nil
		}),
	)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
		EventName:      "INSERT",
		EventSourceArn: "arn:aws:dynamodb:eu-west-1:123456789012:table/test-orgs/stream/label",
		Change:         events.DynamoDBStreamRecord{NewImage: projectImage("x")},
	}}}

	if err := h.HandleRecords(context.Background(), event); err != nil {
		t.Fatalf("HandleRecords failed: %v", err)
	}
	if called {
		t.Error("expected records of non-leaf tables to be skipped")
	}
}

func TestHandleRecords_ObserverErrorDoesNotFailBatch(t *testing.T) {
	h := stream.NewHandler(projectsRegistry(t), stream.Config{TablePrefix: "test-"}, nil,
		hierarchy.ObserverFunc(func(context.Context, hierarchy.Event) error {
			return errors.New("downstream unavailable")
		}),
	)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
		EventName:      "INSERT",
		EventSourceArn: projectsArn,
		Change:         events.DynamoDBStreamRecord{NewImage: projectImage("x")},
	}}}

	if err := h.HandleRecords(context.Background(), event); err != nil {
		t.Errorf("expected observer errors to be logged only, got %v", err)
	}
}

func TestHandleRecords_EmptyEvent(t *testing.T) {
	h := stream.NewHandler(nil, stream.Config{}, nil)
	if err := h.HandleRecords(context.Background(), events.DynamoDBEvent{}); err != nil {
		t.Errorf("expected no error for empty event, got %v", err)
	}
}

func TestToEvent_UnknownEventName(t *testing.T) {
	p, _ := hierarchy.NewPath("orgs", hierarchy.Level{Collection: "orgs"})
	_, err := stream.ToEvent(p, events.DynamoDBEventRecord{EventName: "TRUNCATE"})
	if err == nil {
		t.Error("expected error for unknown event name")
	}
}

func TestToEvent_RootLevelIDs(t *testing.T) {
	p, _ := hierarchy.NewPath("orgs", hierarchy.Level{Collection: "orgs", ChildrenField: "projects"})
	e, err := stream.ToEvent(p, events.DynamoDBEventRecord{
		EventName: "INSERT",
		Change: events.DynamoDBStreamRecord{
			NewImage: map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("o1")},
		},
	})
	if err != nil {
		t.Fatalf("ToEvent failed: %v", err)
	}
	if len(e.IDs) != 1 || e.IDs[0] != "o1" {
		t.Errorf("expected ids [o1], got %v", e.IDs)
	}
}

func TestIsTTLRemoval(t *testing.T) {
	tests := []struct {
		name     string
		identity *events.DynamoDBUserIdentity
		want     bool
	}{
		{"ttl service", &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "dynamodb.amazonaws.com"}, true},
		{"other service", &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "lambda.amazonaws.com"}, false},
		{"client delete", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := events.DynamoDBEventRecord{EventName: "REMOVE", UserIdentity: tt.identity}
			if got := stream.IsTTLRemoval(record); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDecodeImage(t *testing.T) {
	doc, err := stream.DecodeImage(map[string]events.DynamoDBAttributeValue{
		"id":     events.NewStringAttribute("x"),
		"ok":     events.NewBooleanAttribute(true),
		"none":   events.NewNullAttribute(),
		"list":   events.NewListAttribute([]events.DynamoDBAttributeValue{events.NewStringAttribute("a")}),
		"ttl":    events.NewNumberAttribute("1700000000"),
		"labels": events.NewStringSetAttribute([]string{"z", "y"}),
	})
	if err != nil {
		t.Fatalf("DecodeImage failed: %v", err)
	}
	if doc.ID() != "x" || doc["ok"] != true || doc["none"] != nil {
		t.Errorf("unexpected document %v", doc)
	}
	if list, ok := doc["list"].([]any); !ok || len(list) != 1 || list[0] != "a" {
		t.Errorf("expected list [a], got %v", doc["list"])
	}
	if ttl, ok := store.TTL(doc); !ok || ttl != 1700000000 {
		t.Errorf("expected ttl 1700000000, got %d", ttl)
	}
	if labels := doc.StringSet("labels"); len(labels) != 2 || labels[0] != "y" {
		t.Errorf("expected sorted labels [y z], got %v", labels)
	}

	if doc, err := stream.DecodeImage(nil); err != nil || doc != nil {
		t.Errorf("expected nil document for nil image, got %v, %v", doc, err)
	}
}
