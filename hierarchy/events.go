package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/arbor/store"
)

// EventKind identifies what happened to a resource.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventUpdated
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event describes a committed change. Before is nil for EventCreated and
// After is nil for EventDeleted.
type Event struct {
	Kind       EventKind
	Path       string
	Collection string
	IDs        []string
	Before     store.Document
	After      store.Document
	At         time.Time
}

// ID returns the id of the changed resource.
func (e Event) ID() string {
	if len(e.IDs) == 0 {
		return ""
	}
	return e.IDs[len(e.IDs)-1]
}

// Observer receives events after the transaction that caused them has
// committed. Returned errors are logged and otherwise ignored.
type Observer interface {
	Observe(ctx context.Context, e Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event) error

func (f ObserverFunc) Observe(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Notify delivers e to each observer in order. A failing or panicking
// observer is logged and does not stop delivery to the rest.
func Notify(ctx context.Context, logger *slog.Logger, observers []Observer, e Event) {
	for _, o := range observers {
		if err := observe(ctx, o, e); err != nil {
			logger.Warn("observer failed",
				"event", e.Kind.String(),
				"collection", e.Collection,
				"ids", e.IDs,
				"error", err,
			)
		}
	}
}

func observe(ctx context.Context, o Observer, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.Observe(ctx, e)
}
