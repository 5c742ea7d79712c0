// Package dynamo implements store.ResourceStore on Amazon DynamoDB.
//
// Each collection maps to one table (optionally prefixed) keyed by the
// string attribute "id". The adapter relies only on DynamoDB primitives:
//
//   - Unique insert: PutItem conditioned on attribute_not_exists(id), or on
//     an expired ttl for items DynamoDB hasn't reaped yet
//   - Transactions: staged operations sent as one TransactWriteItems call;
//     cancellation reasons are mapped back to the failing operation
//   - Path reads: one TransactGetItems call, a serializable snapshot
//   - Child-set reads: BatchGetItem in chunks of 100, unprocessed keys
//     retried with backoff
//   - Expiry: the table TTL attribute "ttl" (epoch seconds)
//
// Set-valued fields (store.StringSet) are stored as native string sets, so
// membership changes are single ADD/DELETE actions and "contains" checks
// are conditions.
//
// # Usage
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	client := dynamodb.NewFromConfig(cfg)
//	s := dynamo.New(client, dynamo.Config{TablePrefix: "prod-"})
//	if err := s.EnsureCollection(ctx, "arbor_locks", dynamo.TableOptions{TTL: true}); err != nil {
//	    return err
//	}
package dynamo
