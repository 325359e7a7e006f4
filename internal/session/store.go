// Package session persists the per-user turn log on DynamoDB with a
// 24-hour retention horizon.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"quote-agent/internal/clock"
	"quote-agent/internal/domain"
)

const (
	pkPrefix     = "USER#"
	skPrefixTurn = "TURN#"

	// Fixed-width so sort keys order lexicographically; RFC3339Nano trims
	// trailing zeros and breaks range queries.
	skTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store wraps a DynamoDB table holding one turn per item.
type Store struct {
	api       dynamodbAPI
	tableName string
	retention time.Duration
	loc       *time.Location
	clk       clock.Clock
	log       zerolog.Logger
}

// New creates a session Store. loc is the single civil timezone used for
// first-message-of-day checks.
func New(api dynamodbAPI, tableName string, retention time.Duration, loc *time.Location, clk clock.Clock, log zerolog.Logger) (*Store, error) {
	if api == nil {
		return nil, errors.New("session: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("session: table name must not be empty")
	}
	if retention <= 0 {
		return nil, errors.New("session: retention must be positive")
	}
	if loc == nil {
		return nil, errors.New("session: timezone must not be nil")
	}
	if clk == nil {
		return nil, errors.New("session: clock must not be nil")
	}
	return &Store{api: api, tableName: tableName, retention: retention, loc: loc, clk: clk, log: log}, nil
}

func userPK(userID string) string { return pkPrefix + userID }

func turnSK(ts time.Time) string { return skPrefixTurn + ts.UTC().Format(skTimeLayout) }

// Append writes one immutable turn. Failures are returned to the caller,
// never swallowed.
func (s *Store) Append(ctx context.Context, userID, role, content string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("session: Append: user id is required")
	}
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return fmt.Errorf("session: Append: unknown role %q", role)
	}

	now := s.clk.Now()
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK":        &types.AttributeValueMemberS{Value: turnSK(now)},
			"role":      &types.AttributeValueMemberS{Value: role},
			"content":   &types.AttributeValueMemberS{Value: content},
			"createdAt": &types.AttributeValueMemberS{Value: now.UTC().Format(skTimeLayout)},
			"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(s.retention).Unix())},
		},
	})
	if err != nil {
		return fmt.Errorf("session: Append: %w", err)
	}
	return nil
}

// Recent returns the most recent turns for a user, newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = 10
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
		// read-your-write: a turn appended just before must be visible
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("session: Recent query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(userID, item)
		if err != nil {
			return nil, fmt.Errorf("session: Recent unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// IsFirstToday reports whether the user has written no turn since local
// midnight of ref in the store's configured timezone.
func (s *Store) IsFirstToday(ctx context.Context, userID string, ref time.Time) (bool, error) {
	local := ref.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK >= :since"),
		FilterExpression:       aws.String("#r = :user"),
		ExpressionAttributeNames: map[string]string{
			"#r": "role",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: userPK(userID)},
			":since": &types.AttributeValueMemberS{Value: turnSK(midnight)},
			":user":  &types.AttributeValueMemberS{Value: domain.RoleUser},
		},
		Select:         types.SelectCount,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("session: IsFirstToday query: %w", err)
	}
	return out.Count == 0, nil
}

// Sweep deletes all turns older than the retention horizon. Idempotent and
// safe to run concurrently with appends: it only ever removes items whose
// createdAt predates the cutoff computed at the start of the scan.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clk.Now().Add(-s.retention).UTC().Format(skTimeLayout)
	deleted := 0

	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("createdAt < :cutoff"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cutoff": &types.AttributeValueMemberS{Value: cutoff},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("session: Sweep scan: %w", err)
		}

		for _, item := range out.Items {
			_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key: map[string]types.AttributeValue{
					"PK": item["PK"],
					"SK": item["SK"],
				},
			})
			if err != nil {
				return deleted, fmt.Errorf("session: Sweep delete: %w", err)
			}
			deleted++
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Msg("session sweep removed expired turns")
	}
	return deleted, nil
}

func itemToTurn(userID string, item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	createdRaw, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := time.Parse(skTimeLayout, createdRaw)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("session: parse createdAt: %w", err)
	}
	return domain.Turn{UserID: userID, Role: role, Content: content, CreatedAt: createdAt}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("session: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("session: attribute %q is not a string", key)
	}
	return s.Value, nil
}
