package dynamo

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// EncodeItem converts a document to a DynamoDB item. store.StringSet values
// become native string sets; empty sets are omitted because DynamoDB
// rejects them.
func EncodeItem(doc store.Document) (Item, error) {
	item := make(Item, len(doc))
	for k, v := range doc {
		av, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", k, err)
		}
		if av == nil {
			continue
		}
		item[k] = av
	}
	return item, nil
}

func encodeValue(v any) (types.AttributeValue, error) {
	switch t := v.(type) {
	case store.StringSet:
		if len(t) == 0 {
			return nil, nil
		}
		ss := append([]string(nil), t...)
		sort.Strings(ss)
		return &types.AttributeValueMemberSS{Value: ss}, nil
	case store.Document:
		return encodeMap(t)
	case map[string]any:
		return encodeMap(t)
	}
	return attributevalue.Marshal(v)
}

func encodeMap(m map[string]any) (types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		av, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if av != nil {
			out[k] = av
		}
	}
	return &types.AttributeValueMemberM{Value: out}, nil
}

// DecodeItem converts a DynamoDB item to a document. String sets decode to
// store.StringSet and numbers to float64.
func DecodeItem(item Item) (store.Document, error) {
	if item == nil {
		return nil, nil
	}
	doc := make(store.Document, len(item))
	for k, av := range item {
		v, err := decodeValue(av)
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}

func decodeValue(av types.AttributeValue) (any, error) {
	switch t := av.(type) {
	case *types.AttributeValueMemberSS:
		ss := append(store.StringSet(nil), t.Value...)
		sort.Strings(ss)
		return ss, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(t.Value))
		for k, v := range t.Value {
			dv, err := decodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = dv
		}
		return m, nil
	case *types.AttributeValueMemberL:
		l := make([]any, len(t.Value))
		for i, v := range t.Value {
			dv, err := decodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			l[i] = dv
		}
		return l, nil
	}
	var out any
	if err := attributevalue.Unmarshal(av, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// keyOf returns the primary key for a document id.
func keyOf(id string) Item {
	return Item{store.FieldID: &types.AttributeValueMemberS{Value: id}}
}

// isExpiredItem checks if an item has an expired TTL (is pending reaping).
func isExpiredItem(item Item, now time.Time) bool {
	ttlAttr, exists := item[store.FieldTTL]
	if !exists {
		return false // No TTL = live
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}
