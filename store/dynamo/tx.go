package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

// commit sends the staged operations as one TransactWriteItems call.
func (s *Store) commit(ctx context.Context, ops []store.TxOp) error {
	now := s.now()
	items := make([]types.TransactWriteItem, 0, len(ops))
	for i, op := range ops {
		item, err := s.writeItem(op, now)
		if err != nil {
			return &store.TxError{Index: i, Op: op, Err: err}
		}
		items = append(items, item)
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err, ops)
}

// writeItem translates one staged operation, precondition included.
func (s *Store) writeItem(op store.TxOp, now time.Time) (types.TransactWriteItem, error) {
	table := aws.String(s.config.TableName(op.Collection))
	key := keyOf(op.ID)
	b := newExprBuilder()

	switch op.Kind {
	case store.OpInsert:
		item, err := EncodeItem(op.Doc)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		cond := b.absentCond(now)
		return types.TransactWriteItem{
			Put: &types.Put{
				TableName:                 table,
				Item:                      item,
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  b.exprNames(),
				ExpressionAttributeValues: b.exprValues(),
			},
		}, nil

	case store.OpUpdate:
		update, err := b.updateExpr(op.Update)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		cond := b.liveCond(now)
		return types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 table,
				Key:                       key,
				UpdateExpression:          aws.String(update),
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  b.exprNames(),
				ExpressionAttributeValues: b.exprValues(),
			},
		}, nil

	case store.OpDelete:
		cond := b.liveCond(now)
		if op.RequireEmpty != "" {
			cond = fmt.Sprintf("(%s) AND %s", cond, b.emptyCond(op.RequireEmpty))
		}
		if op.MatchField != "" {
			cond = fmt.Sprintf("(%s) AND %s", cond, b.equalCond(op.MatchField, op.MatchValue))
		}
		return types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:                 table,
				Key:                       key,
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  b.exprNames(),
				ExpressionAttributeValues: b.exprValues(),
			},
		}, nil

	case store.OpAddToSet, store.OpRemoveFromSet:
		action := "ADD"
		cond := b.liveCond(now)
		if op.Kind == store.OpRemoveFromSet {
			action = "DELETE"
			cond = fmt.Sprintf("(%s) AND %s", cond, b.containsCond(op.Field, op.Value))
		}
		update := fmt.Sprintf("%s %s %s", action, b.path(op.Field),
			b.value(&types.AttributeValueMemberSS{Value: []string{op.Value}}))
		return types.TransactWriteItem{
			Update: &types.Update{
				TableName:                 table,
				Key:                       key,
				UpdateExpression:          aws.String(update),
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  b.exprNames(),
				ExpressionAttributeValues: b.exprValues(),
			},
		}, nil

	case store.OpCheck:
		cond := b.liveCond(now)
		if op.Field != "" {
			cond = fmt.Sprintf("(%s) AND %s", cond, b.containsCond(op.Field, op.Value))
		}
		return types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                 table,
				Key:                       key,
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  b.exprNames(),
				ExpressionAttributeValues: b.exprValues(),
			},
		}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("unsupported operation %s", op.Kind)
}

// mapTransactionError maps DynamoDB transaction errors to *store.TxError,
// using the index of the first cancellation reason that isn't "None".
func mapTransactionError(err error, ops []store.TxOp) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			code := aws.ToString(reason.Code)
			if code == "" || code == "None" {
				continue
			}
			te := &store.TxError{Index: i, Reason: code}
			if i < len(ops) {
				te.Op = ops[i]
			}
			if msg := aws.ToString(reason.Message); msg != "" {
				te.Err = errors.New(msg)
			}
			return te
		}
		return &store.TxError{Index: -1, Reason: "TransactionCanceled", Err: err}
	}

	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return &store.TxError{Index: -1, Reason: store.ReasonConflict, Err: err}
	}

	return &store.TxError{Index: -1, Err: err}
}
