package dynamo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

// exprBuilder allocates expression attribute name and value placeholders.
// Only placeholders that are actually referenced are emitted, since DynamoDB
// rejects unused ones.
type exprBuilder struct {
	names  map[string]string
	byName map[string]string
	values map[string]types.AttributeValue
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  map[string]string{},
		byName: map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

// name returns the placeholder for a single attribute name.
func (b *exprBuilder) name(attr string) string {
	if p, ok := b.byName[attr]; ok {
		return p
	}
	p := fmt.Sprintf("#n%d", len(b.names))
	b.names[p] = attr
	b.byName[attr] = p
	return p
}

// path returns the placeholder form of a dotted attribute path.
func (b *exprBuilder) path(p string) string {
	segs := strings.Split(p, ".")
	for i, seg := range segs {
		segs[i] = b.name(seg)
	}
	return strings.Join(segs, ".")
}

// value returns a placeholder bound to av.
func (b *exprBuilder) value(av types.AttributeValue) string {
	p := fmt.Sprintf(":v%d", len(b.values))
	b.values[p] = av
	return p
}

func (b *exprBuilder) now(t time.Time) string {
	return b.value(&types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)})
}

func (b *exprBuilder) exprNames() map[string]string {
	if len(b.names) == 0 {
		return nil
	}
	return b.names
}

func (b *exprBuilder) exprValues() map[string]types.AttributeValue {
	if len(b.values) == 0 {
		return nil
	}
	return b.values
}

// absentCond holds when no live document has the key: either none exists
// or the existing one has an expired ttl that DynamoDB hasn't reaped yet.
func (b *exprBuilder) absentCond(now time.Time) string {
	return fmt.Sprintf("attribute_not_exists(%s) OR %s <= %s",
		b.name(store.FieldID), b.name(store.FieldTTL), b.now(now))
}

// liveCond holds when the document exists and is not expired.
func (b *exprBuilder) liveCond(now time.Time) string {
	ttl := b.name(store.FieldTTL)
	return fmt.Sprintf("attribute_exists(%s) AND (attribute_not_exists(%s) OR %s > %s)",
		b.name(store.FieldID), ttl, ttl, b.now(now))
}

// containsCond holds when the set field contains member.
func (b *exprBuilder) containsCond(field, member string) string {
	return fmt.Sprintf("contains(%s, %s)", b.path(field), b.value(&types.AttributeValueMemberS{Value: member}))
}

// equalCond holds when the string field equals value.
func (b *exprBuilder) equalCond(field, value string) string {
	return fmt.Sprintf("%s = %s", b.path(field), b.value(&types.AttributeValueMemberS{Value: value}))
}

// emptyCond holds when the set field has no members. Empty sets are never
// stored, so absence is emptiness.
func (b *exprBuilder) emptyCond(field string) string {
	return fmt.Sprintf("attribute_not_exists(%s)", b.path(field))
}

// updateExpr renders a RawOperator as an update expression. Clauses and
// attribute paths are emitted in sorted order so the output is stable.
func (b *exprBuilder) updateExpr(u store.RawOperator) (string, error) {
	var clauses []string
	for _, op := range u.Operators() {
		paths := make([]string, 0, len(u[op]))
		for p := range u[op] {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		var parts []string
		for _, p := range paths {
			v := u[op][p]
			switch op {
			case store.OpSet:
				av, err := encodeValue(v)
				if err != nil {
					return "", fmt.Errorf("SET %s: %w", p, err)
				}
				if av == nil {
					// Empty sets cannot be stored; assigning one removes the attribute.
					av = &types.AttributeValueMemberNULL{Value: true}
				}
				parts = append(parts, fmt.Sprintf("%s = %s", b.path(p), b.value(av)))
			case store.OpRemove:
				parts = append(parts, b.path(p))
			case store.OpAdd, store.OpDeleteMembers:
				av, err := operandValue(v)
				if err != nil {
					return "", fmt.Errorf("%s %s: %w", op, p, err)
				}
				parts = append(parts, fmt.Sprintf("%s %s", b.path(p), b.value(av)))
			}
		}
		clauses = append(clauses, string(op)+" "+strings.Join(parts, ", "))
	}
	if len(clauses) == 0 {
		return "", store.ErrInvalidUpdate
	}
	return strings.Join(clauses, " "), nil
}

// operandValue encodes ADD/DELETE operands: numbers stay numbers, string
// slices become string sets.
func operandValue(v any) (types.AttributeValue, error) {
	switch t := v.(type) {
	case store.StringSet:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), t...)}, nil
	case []string:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), t...)}, nil
	}
	if _, ok := store.ToFloat(v); ok {
		return attributevalue.Marshal(v)
	}
	return nil, fmt.Errorf("unsupported operand %T", v)
}
