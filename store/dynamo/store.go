package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/internal/retry"
	"github.com/jacentio/arbor/store"
)

// maxBatchGet is the BatchGetItem key limit per request.
const maxBatchGet = 100

// Store implements store.ResourceStore on DynamoDB, one table per collection.
type Store struct {
	client Client
	config Config
	logger *slog.Logger
	now    func() time.Time
}

var _ store.ResourceStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for ttl conditions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Store instance. The client's lifecycle stays with the caller.
func New(client Client, config Config, opts ...Option) *Store {
	config.validate()
	s := &Store{
		client: client,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Insert implements store.ResourceStore with a conditional PutItem.
func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	if doc.ID() == "" {
		return fmt.Errorf("insert %s: document has no id", collection)
	}
	item, err := EncodeItem(doc)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", collection, doc.ID(), err)
	}

	b := newExprBuilder()
	cond := b.absentCond(s.now())

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.config.TableName(collection)),
		Item:                      item,
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  b.exprNames(),
		ExpressionAttributeValues: b.exprValues(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("insert %s/%s: %w", collection, doc.ID(), store.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// Get implements store.ResourceStore, returning ErrNotFound if expired or missing.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName(collection)),
		Key:            keyOf(id),
		ConsistentRead: aws.Bool(!s.config.EventualReads),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || isExpiredItem(result.Item, s.now()) {
		return nil, store.ErrNotFound
	}
	return DecodeItem(result.Item)
}

// GetMany implements store.ResourceStore with chunked BatchGetItem calls,
// retrying unprocessed keys with backoff.
func (s *Store) GetMany(ctx context.Context, collection string, ids []string) ([]store.Document, error) {
	table := s.config.TableName(collection)
	unique := dedupe(ids)
	found := make(map[string]store.Document, len(unique))
	now := s.now()

	for start := 0; start < len(unique); start += maxBatchGet {
		end := min(start+maxBatchGet, len(unique))

		keys := make([]Item, 0, end-start)
		for _, id := range unique[start:end] {
			keys = append(keys, keyOf(id))
		}
		request := map[string]types.KeysAndAttributes{
			table: {Keys: keys, ConsistentRead: aws.Bool(!s.config.EventualReads)},
		}

		attempts, err := retry.Poll(ctx, s.batchPolicy(), func(ctx context.Context) (bool, error) {
			out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return false, err
			}
			for _, raw := range out.Responses[table] {
				if isExpiredItem(raw, now) {
					continue
				}
				doc, err := DecodeItem(raw)
				if err != nil {
					return false, err
				}
				found[doc.ID()] = doc
			}
			request = out.UnprocessedKeys
			return len(request[table].Keys) == 0, nil
		})
		if err != nil {
			return nil, fmt.Errorf("batch get %s: %w", table, err)
		}
		if attempts > 1 {
			s.logger.Debug("batch get retried unprocessed keys",
				"table", table,
				"attempts", attempts,
			)
		}
	}

	docs := make([]store.Document, 0, len(found))
	for _, id := range unique {
		if doc, ok := found[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// GetPath implements store.ResourceStore with a single TransactGetItems call,
// giving a serializable snapshot of every level of the path.
func (s *Store) GetPath(ctx context.Context, refs []store.Ref) ([]store.Document, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if len(refs) > store.MaxTxOps {
		return nil, fmt.Errorf("get path: %d refs exceeds %d", len(refs), store.MaxTxOps)
	}

	items := make([]types.TransactGetItem, len(refs))
	for i, ref := range refs {
		items[i] = types.TransactGetItem{
			Get: &types.Get{
				TableName: aws.String(s.config.TableName(ref.Collection)),
				Key:       keyOf(ref.ID),
			},
		}
	}

	out, err := s.client.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{TransactItems: items})
	if err != nil {
		return nil, fmt.Errorf("get path: %w", err)
	}

	now := s.now()
	docs := make([]store.Document, len(refs))
	for i, resp := range out.Responses {
		if i >= len(docs) {
			break
		}
		if resp.Item == nil || isExpiredItem(resp.Item, now) {
			continue
		}
		doc, err := DecodeItem(resp.Item)
		if err != nil {
			return nil, fmt.Errorf("get path %s: %w", refs[i], err)
		}
		docs[i] = doc
	}
	return docs, nil
}

// List implements store.ResourceStore with a paginated Scan.
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	now := s.now()
	var docs []store.Document

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(s.config.TableName(collection)),
		ConsistentRead: aws.Bool(!s.config.EventualReads),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			if isExpiredItem(raw, now) {
				continue
			}
			doc, err := DecodeItem(raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Delete implements store.ResourceStore. An item that was already expired
// counts as not removed.
func (s *Store) Delete(ctx context.Context, collection, id string) (int64, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.config.TableName(collection)),
		Key:          keyOf(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return 0, err
	}
	if len(out.Attributes) == 0 || isExpiredItem(out.Attributes, s.now()) {
		return 0, nil
	}
	return 1, nil
}

// Begin implements store.ResourceStore. Operations are staged locally and
// sent as one TransactWriteItems call on commit.
func (s *Store) Begin(ctx context.Context) (*store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return store.NewTx(s.commit), nil
}

func (s *Store) batchPolicy() retry.Policy {
	return retry.Policy{
		Interval:    s.config.BatchRetryInterval,
		Timeout:     s.config.BatchRetryTimeout,
		Multiplier:  2,
		MaxInterval: time.Second,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
