package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/arbor/store"
)

// TableOptions configures EnsureCollection.
type TableOptions struct {
	// TTL enables DynamoDB TTL on the "ttl" attribute.
	TTL bool

	// Stream enables a NEW_AND_OLD_IMAGES stream (for the stream package).
	Stream bool

	// WaitTimeout bounds how long to wait for the table to become active.
	// Default: 2m
	WaitTimeout time.Duration
}

// EnsureCollection creates the table backing collection if it doesn't
// exist, waits for it to be active and enables TTL when requested.
func (s *Store) EnsureCollection(ctx context.Context, collection string, opts TableOptions) error {
	table := s.config.TableName(collection)
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 2 * time.Minute
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(store.FieldID), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(store.FieldID), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
	if opts.Stream {
		input.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		}
	}

	_, err := s.client.CreateTable(ctx, input)
	switch {
	case err == nil:
		s.logger.Info("created table", "table", table)
	case hasErrorCode(err, "ResourceInUseException"):
		s.logger.Debug("table already exists", "table", table)
	default:
		return fmt.Errorf("create table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, opts.WaitTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}

	if !opts.TTL {
		return nil
	}
	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(store.FieldTTL),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil && !ttlAlreadyEnabled(err) {
		return fmt.Errorf("enable ttl on %s: %w", table, err)
	}
	return nil
}

func hasErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

// ttlAlreadyEnabled matches the ValidationException DynamoDB returns when
// TTL is re-enabled on a table that already has it.
func ttlAlreadyEnabled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationException" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "already enabled")
}
