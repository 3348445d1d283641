package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"paincoach-agent/internal/domain"
)

const (
	skPrefixTurn  = "TURN#"
	skPrefixIdem  = "IDEMP#"
	conditionCode = "ConditionalCheckFailed"

	// Fixed-width timestamp so lexicographic sort-key order matches
	// chronological order (RFC3339Nano trims trailing zeros and breaks it).
	turnTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by the stores.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ConversationStore wraps the DynamoDB conversation table. It is the sole
// writer of turn records; turns are append-only and never updated.
type ConversationStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// NewConversationStore creates a ConversationStore over the given table.
func NewConversationStore(api dynamodbAPI, tableName string) (*ConversationStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &ConversationStore{
		api:       api,
		tableName: tableName,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// principalPK returns the partition key scoping all items to one caller.
func principalPK(principal domain.Principal) string {
	return "USER#" + string(principal)
}

// turnSK builds the range key: timestamp first for chronological ordering,
// a unique suffix to break same-instant ties by insertion.
func turnSK(ts time.Time, id string) string {
	return skPrefixTurn + ts.UTC().Format(turnTimeLayout) + "#" + id
}

func idemSK(key string) string {
	return skPrefixIdem + key
}

// Append persists one turn with a server-side timestamp and returns the
// stored record. When clientTurnID is non-empty the write is deduplicated:
// an idempotency marker keyed by clientTurnID is written in the same
// transaction, and a retry surfaces domain.ErrDuplicateTurn instead of a
// second turn record.
func (c *ConversationStore) Append(ctx context.Context, principal domain.Principal, role, content, clientTurnID string) (domain.Turn, error) {
	if strings.TrimSpace(string(principal)) == "" {
		return domain.Turn{}, errors.New("repository: Append: principal is required")
	}
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return domain.Turn{}, fmt.Errorf("repository: Append: unsupported role %q", role)
	}

	ts := c.now().UTC()
	turn := domain.Turn{
		PK:        principalPK(principal),
		SK:        turnSK(ts, c.newID()),
		Principal: principal,
		Role:      role,
		Content:   content,
		CreatedAt: ts,
	}

	if clientTurnID == "" {
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                turnItem(turn),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		})
		if err != nil {
			return domain.Turn{}, fmt.Errorf("repository: Append: %w", err)
		}
		return turn, nil
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                idemItem(turn.PK, clientTurnID, turn.SK),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if err != nil {
		if isConditionalCancellation(err) {
			return domain.Turn{}, fmt.Errorf("repository: Append idempotency key %q: %w", clientTurnID, domain.ErrDuplicateTurn)
		}
		return domain.Turn{}, fmt.Errorf("repository: Append transact: %w", err)
	}
	return turn, nil
}

// Recent returns up to limit turns for the principal in chronological order.
func (c *ConversationStore) Recent(ctx context.Context, principal domain.Principal, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: principalPK(principal)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT keeps the most recent turns.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: Recent query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Recent unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order for the caller.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// isConditionalCancellation reports whether a transaction failed because an
// item already existed (the idempotency marker collision).
func isConditionalCancellation(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, reason := range canceled.CancellationReasons {
		if reason.Code != nil && *reason.Code == conditionCode {
			return true
		}
	}
	return false
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: turn.PK},
		"SK":        &types.AttributeValueMemberS{Value: turn.SK},
		"principal": &types.AttributeValueMemberS{Value: string(turn.Principal)},
		"role":      &types.AttributeValueMemberS{Value: turn.Role},
		"content":   &types.AttributeValueMemberS{Value: turn.Content},
		"createdAt": &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(turnTimeLayout)},
	}
}

func idemItem(pk, key, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: pk},
		"SK":     &types.AttributeValueMemberS{Value: idemSK(key)},
		"turnSk": &types.AttributeValueMemberS{Value: sk},
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Turn{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := timeAttr(item, "createdAt", turnTimeLayout)
	if err != nil {
		return domain.Turn{}, err
	}

	return domain.Turn{
		PK:        pk,
		SK:        sk,
		Principal: domain.Principal(strings.TrimPrefix(pk, "USER#")),
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key, layout string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(layout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
