// Package stream provides a DynamoDB Streams handler that turns changes to
// hierarchy tables into hierarchy events and reports locks reaped by TTL.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/arbor/hierarchy"
	"github.com/jacentio/arbor/lock"
	"github.com/jacentio/arbor/store"
)

// ttlPrincipal is the stream identity of deletions made by DynamoDB TTL.
const ttlPrincipal = "dynamodb.amazonaws.com"

var reapedLocks = metrics.NewCounter(`arbor_stream_reaped_locks_total`)

// Config configures a Handler.
type Config struct {
	// TablePrefix is stripped from table names to get collection names.
	// Must match the prefix the store was configured with.
	TablePrefix string

	// LockCollection is the collection holding lock documents.
	// Default: "arbor_locks"
	LockCollection string
}

// Handler processes DynamoDB stream events for hierarchy and lock tables.
type Handler struct {
	registry  *hierarchy.Registry
	observers []hierarchy.Observer
	config    Config
	logger    *slog.Logger
}

// NewHandler creates a new stream handler. Records of tables that are the
// leaf of a registered path are delivered to observers as events.
func NewHandler(registry *hierarchy.Registry, config Config, logger *slog.Logger, observers ...hierarchy.Observer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = hierarchy.NewRegistry()
	}
	if config.LockCollection == "" {
		config.LockCollection = lock.DefaultConfig().Collection
	}
	return &Handler{
		registry:  registry,
		observers: observers,
		config:    config,
		logger:    logger,
	}
}

// HandleRecords processes a batch of stream records.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleRecords(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	collection := h.collectionOf(record.EventSourceArn)
	metrics.GetOrCreateCounter(fmt.Sprintf(`arbor_stream_records_total{event=%q}`, strings.ToLower(record.EventName))).Inc()

	if collection == h.config.LockCollection {
		h.processLock(record)
		return nil
	}

	paths := h.registry.ForCollection(collection)
	if len(paths) == 0 {
		h.logger.Debug("skipping record for unregistered collection",
			"collection", collection,
			"eventID", record.EventID,
		)
		return nil
	}

	for _, p := range paths {
		e, err := ToEvent(p, record)
		if err != nil {
			return fmt.Errorf("convert record %s: %w", record.EventID, err)
		}
		hierarchy.Notify(ctx, h.logger, h.observers, e)
	}
	return nil
}

// processLock logs lock documents removed by the TTL reaper. A reaped lock
// means its holder neither released it nor finished within the ttl.
func (h *Handler) processLock(record events.DynamoDBEventRecord) {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) || !IsTTLRemoval(record) {
		return
	}
	reapedLocks.Inc()
	h.logger.Warn("lock expired by ttl",
		"key", getStringAttr(record.Change.Keys, store.FieldID),
		"holder", getStringAttr(record.Change.OldImage, lock.FieldHolder),
		"lockedAt", getStringAttr(record.Change.OldImage, lock.FieldLockedAt),
		"ttl", getNumberAttr(record.Change.OldImage, store.FieldTTL),
	)
}

// collectionOf extracts the table name from a stream ARN
// (arn:aws:dynamodb:region:account:table/NAME/stream/LABEL) and strips the
// configured prefix.
func (h *Handler) collectionOf(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return strings.TrimPrefix(table, h.config.TablePrefix)
}

// IsTTLRemoval reports whether a REMOVE record was issued by DynamoDB TTL
// rather than by a client.
func IsTTLRemoval(record events.DynamoDBEventRecord) bool {
	return record.UserIdentity != nil &&
		record.UserIdentity.Type == "Service" &&
		record.UserIdentity.PrincipalID == ttlPrincipal
}

// ToEvent converts a stream record of p's leaf collection to an event.
//
// A record only carries the leaf document, so IDs holds the ids it can
// reveal: the parent id from the back-reference field, when the path has
// one, followed by the document id.
func ToEvent(p hierarchy.Path, record events.DynamoDBEventRecord) (hierarchy.Event, error) {
	e := hierarchy.Event{
		Path:       p.Name,
		Collection: p.Leaf().Collection,
		At:         record.Change.ApproximateCreationDateTime.Time,
	}

	switch events.DynamoDBOperationType(record.EventName) {
	case events.DynamoDBOperationTypeInsert:
		e.Kind = hierarchy.EventCreated
	case events.DynamoDBOperationTypeModify:
		e.Kind = hierarchy.EventUpdated
	case events.DynamoDBOperationTypeRemove:
		e.Kind = hierarchy.EventDeleted
	default:
		return e, fmt.Errorf("unknown event name %q", record.EventName)
	}

	var err error
	if e.Before, err = DecodeImage(record.Change.OldImage); err != nil {
		return e, fmt.Errorf("old image: %w", err)
	}
	if e.After, err = DecodeImage(record.Change.NewImage); err != nil {
		return e, fmt.Errorf("new image: %w", err)
	}

	doc := e.After
	if doc == nil {
		doc = e.Before
	}
	id := getStringAttr(record.Change.Keys, store.FieldID)
	if id == "" {
		id = doc.ID()
	}
	if back := p.Leaf().BackRefField; back != "" && p.Depth() > 0 && doc.String(back) != "" {
		e.IDs = []string{doc.String(back), id}
	} else {
		e.IDs = []string{id}
	}
	return e, nil
}
