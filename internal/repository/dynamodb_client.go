package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"genie-chat/internal/domain"
)

const (
	pkPrefixUser = "USER#"
	skPrefixConv = "CONV#"
	ttlDuration  = 180 * 24 * time.Hour // refreshed on every touch
)

// ErrNotOwned is returned when a user has no record of the conversation.
var ErrNotOwned = errors.New("repository: conversation not owned by user")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Ledger records which user owns which Genie conversations.
type Ledger interface {
	Record(ctx context.Context, userID, conversationID, title string) error
	Touch(ctx context.Context, userID, conversationID string) error
	Remove(ctx context.Context, userID, conversationID string) error
	ListByUser(ctx context.Context, userID string) ([]domain.Ownership, error)
	Owns(ctx context.Context, userID, conversationID string) (bool, error)
}

// Client stores ownership records in a single DynamoDB table keyed by user.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func userPK(userID string) string {
	return pkPrefixUser + strings.ToLower(strings.TrimSpace(userID))
}

func convSK(conversationID string) string {
	return skPrefixConv + conversationID
}

func (c *Client) key(userID, conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: convSK(conversationID)},
	}
}

func (c *Client) stamp() (string, string) {
	now := c.now().UTC()
	return now.Format(time.RFC3339), fmt.Sprintf("%d", now.Add(ttlDuration).Unix())
}

// Record stores a new ownership entry. Recording an existing entry is a no-op.
func (c *Client) Record(ctx context.Context, userID, conversationID, title string) error {
	if strings.TrimSpace(userID) == "" || conversationID == "" {
		return errors.New("repository: Record: user and conversation id are required")
	}
	now, ttl := c.stamp()
	item := c.key(userID, conversationID)
	item["conversationId"] = &types.AttributeValueMemberS{Value: conversationID}
	item["title"] = &types.AttributeValueMemberS{Value: title}
	item["createdAt"] = &types.AttributeValueMemberS{Value: now}
	item["lastActivity"] = &types.AttributeValueMemberS{Value: now}
	item["ttl"] = &types.AttributeValueMemberN{Value: ttl}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var exists *types.ConditionalCheckFailedException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("repository: Record: %w", err)
	}
	return nil
}

// Touch refreshes lastActivity on an existing entry, or returns ErrNotOwned.
func (c *Client) Touch(ctx context.Context, userID, conversationID string) error {
	now, ttl := c.stamp()
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 c.key(userID, conversationID),
		UpdateExpression:    aws.String("SET lastActivity = :now, #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: now},
			":ttl": &types.AttributeValueMemberN{Value: ttl},
		},
	})
	if err != nil {
		var missing *types.ConditionalCheckFailedException
		if errors.As(err, &missing) {
			return ErrNotOwned
		}
		return fmt.Errorf("repository: Touch: %w", err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, userID, conversationID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(userID, conversationID),
	})
	if err != nil {
		return fmt.Errorf("repository: Remove: %w", err)
	}
	return nil
}

// Owns reports whether the user has an ownership entry for the conversation.
func (c *Client) Owns(ctx context.Context, userID, conversationID string) (bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(c.tableName),
		Key:                  c.key(userID, conversationID),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("PK"),
	})
	if err != nil {
		return false, fmt.Errorf("repository: Owns get item: %w", err)
	}
	return out != nil && len(out.Item) > 0, nil
}

// ListByUser returns every conversation the user owns, most recently active first.
func (c *Client) ListByUser(ctx context.Context, userID string) ([]domain.Ownership, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixConv},
		},
	}

	var owned []domain.Ownership
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListByUser query: %w", err)
		}
		for _, item := range out.Items {
			o, err := itemToOwnership(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListByUser unmarshal: %w", err)
			}
			o.UserID = userID
			owned = append(owned, o)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].LastActivity > owned[j].LastActivity
	})
	return owned, nil
}

// itemToOwnership converts a DynamoDB attribute map to an Ownership.
func itemToOwnership(item map[string]types.AttributeValue) (domain.Ownership, error) {
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Ownership{}, err
	}
	// The remaining attributes may be absent on older records.
	title, _ := strAttr(item, "title")
	created, _ := strAttr(item, "createdAt")
	last, _ := strAttr(item, "lastActivity")
	if last == "" {
		last = created
	}
	return domain.Ownership{
		ConversationID: convID,
		Title:          title,
		CreatedAt:      created,
		LastActivity:   last,
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
