// Package store keeps an audit ledger of variant-processing outcomes in
// DynamoDB.
//
// Each invocation writes one item. Items for the same source object share a
// partition key (OBJECT#{bucket}/{key}); the sort key orders invocations by
// start time, so redeliveries of one upload read back as a history. A TTL
// attribute (expiresAt) expires rows after OutcomeTTL.
//
// The ledger is observational: the worker never reads it to decide what to
// process.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

// OutcomeTTL is the default retention for ledger rows.
const OutcomeTTL = 7 * 24 * time.Hour

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// OutcomeRecord is one ledger row.
type OutcomeRecord struct {
	SourceBucket string                   `json:"sourceBucket" dynamodbav:"sourceBucket"`
	Key          string                   `json:"key" dynamodbav:"key"`
	InvocationID string                   `json:"invocationId" dynamodbav:"invocationId"`
	Status       string                   `json:"status" dynamodbav:"status"`
	SkipReason   string                   `json:"skipReason,omitempty" dynamodbav:"skipReason,omitempty"`
	ErrorKind    string                   `json:"errorKind,omitempty" dynamodbav:"errorKind,omitempty"`
	Error        string                   `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Variants     []pipeline.VariantResult `json:"variants,omitempty" dynamodbav:"variants,omitempty"`
	SourceFormat string                   `json:"sourceFormat,omitempty" dynamodbav:"sourceFormat,omitempty"`
	SourceWidth  int                      `json:"sourceWidth,omitempty" dynamodbav:"sourceWidth,omitempty"`
	SourceHeight int                      `json:"sourceHeight,omitempty" dynamodbav:"sourceHeight,omitempty"`
	SourceBytes  int                      `json:"sourceBytes,omitempty" dynamodbav:"sourceBytes,omitempty"`
	Metadata     map[string]string        `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	StartedAt    time.Time                `json:"startedAt" dynamodbav:"startedAt"`
	DurationMs   int64                    `json:"durationMs" dynamodbav:"durationMs"`
}

// OutcomeStore writes and reads ledger rows.
type OutcomeStore struct {
	client    API
	tableName string
	ttl       time.Duration
}

// NewOutcomeStore creates an OutcomeStore for the given table.
// A non-positive ttl uses OutcomeTTL.
func NewOutcomeStore(client API, tableName string, ttl time.Duration) *OutcomeStore {
	if ttl <= 0 {
		ttl = OutcomeTTL
	}
	return &OutcomeStore{client: client, tableName: tableName, ttl: ttl}
}

// TableName returns the ledger table.
func (s *OutcomeStore) TableName() string {
	return s.tableName
}

// objectPK returns the partition key: OBJECT#{bucket}/{key}
func objectPK(bucket, key string) string {
	return "OBJECT#" + bucket + "/" + key
}

// invocationSK sorts by start time; the invocation ID keeps concurrent
// redeliveries from overwriting each other.
func invocationSK(startedAt time.Time, invocationID string) string {
	return "INVOCATION#" + startedAt.UTC().Format(time.RFC3339Nano) + "#" + invocationID
}

// NewOutcomeRecord converts a pipeline outcome into a ledger row.
func NewOutcomeRecord(out *pipeline.Outcome) *OutcomeRecord {
	rec := &OutcomeRecord{
		SourceBucket: out.SourceBucket,
		Key:          out.Key,
		InvocationID: out.InvocationID,
		Status:       out.Result(),
		SkipReason:   out.SkipReason,
		ErrorKind:    string(out.ErrorKind),
		Error:        out.Error,
		Variants:     out.Variants,
		StartedAt:    out.StartedAt,
		DurationMs:   out.Duration.Milliseconds(),
	}
	if src := out.Source; src != nil {
		rec.SourceFormat = src.Format
		rec.SourceWidth = src.Width
		rec.SourceHeight = src.Height
		rec.SourceBytes = src.Bytes
		rec.Metadata = src.Metadata
	}
	return rec
}

// Record implements pipeline.Recorder. Malformed events carry no object
// identity and are not written.
func (s *OutcomeStore) Record(ctx context.Context, out *pipeline.Outcome) error {
	if out.SourceBucket == "" || out.Key == "" {
		log.Debug().Str("invocationId", out.InvocationID).Msg("Outcome has no object identity, not recorded")
		return nil
	}
	return s.PutOutcome(ctx, NewOutcomeRecord(out))
}

// PutOutcome writes one ledger row.
func (s *OutcomeStore) PutOutcome(ctx context.Context, rec *OutcomeRecord) error {
	pk := objectPK(rec.SourceBucket, rec.Key)
	sk := invocationSK(rec.StartedAt, rec.InvocationID)

	start := time.Now()
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	duration := time.Since(start)
	if err != nil {
		log.Debug().Err(err).Str("pk", pk).Str("sk", sk).Dur("duration", duration).Msg("PutOutcome: DynamoDB PutItem failed")
		return fmt.Errorf("PutItem outcome PK=%s SK=%s: %w", pk, sk, err)
	}
	log.Debug().Str("pk", pk).Str("sk", sk).Str("status", rec.Status).Dur("duration", duration).Msg("PutOutcome: outcome persisted")
	return nil
}

// GetOutcomes returns the recorded invocations for one source object,
// oldest first.
func (s *OutcomeStore) GetOutcomes(ctx context.Context, bucket, key string) ([]OutcomeRecord, error) {
	pk := objectPK(bucket, key)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
			":sk": &types.AttributeValueMemberS{Value: "INVOCATION#"},
		},
	}

	var items []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query outcomes PK=%s: %w", pk, err)
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	records := make([]OutcomeRecord, 0, len(items))
	for _, item := range items {
		var rec OutcomeRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			log.Warn().Err(err).Str("pk", pk).Msg("Failed to unmarshal outcome, skipping")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
