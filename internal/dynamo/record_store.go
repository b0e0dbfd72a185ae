// Package dynamo stores moderation records in a DynamoDB table keyed by
// ObjectID, with a global secondary index on OwnerID/SubmittedAt for listing.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kdimtricp/modcheck/internal/models"
)

const (
	DefaultTable = "ModerationResults"
	OwnerIndex   = "OwnerID-SubmittedAt-index"

	defaultListLimit = 10

	// submittedLayout keeps every SubmittedAt the same width so the owner
	// index range key sorts in time order.
	submittedLayout = "2006-01-02T15:04:05.000000000Z"
)

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type Config struct {
	Table string
}

type RecordStore struct {
	api    dynamoAPI
	table  string
	logger *slog.Logger
	now    func() time.Time
}

func NewRecordStore(awsCfg aws.Config, config Config, logger *slog.Logger, optFns ...func(*dynamodb.Options)) *RecordStore {
	return newRecordStore(dynamodb.NewFromConfig(awsCfg, optFns...), config, logger)
}

func newRecordStore(api dynamoAPI, config Config, logger *slog.Logger) *RecordStore {
	if config.Table == "" {
		config.Table = DefaultTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordStore{
		api:    api,
		table:  config.Table,
		logger: logger.With("component", "dynamo", "table", config.Table),
		now:    time.Now,
	}
}

func objectKey(objectID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ObjectID": &types.AttributeValueMemberS{Value: objectID},
	}
}

func submittedAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(submittedLayout)}
}

func (s *RecordStore) Create(ctx context.Context, record *models.ModerationRecord) error {
	record.Normalize()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = s.now().UTC()
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", record.ObjectID, err)
	}
	item["SubmittedAt"] = submittedAttr(record.SubmittedAt)

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(ObjectID)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("failed to put record %s: %w", record.ObjectID, models.ErrRecordExists)
		}
		return fmt.Errorf("failed to put record %s: %w", record.ObjectID, storeError(err))
	}
	return nil
}

// UpdateFields sets the terminal fields, conditional on the record still
// being IN_PROGRESS.
func (s *RecordStore) UpdateFields(ctx context.Context, objectID string, update models.RecordUpdate) error {
	values := &models.ModerationRecord{}
	update.Apply(values, s.now())

	findings, err := attributevalue.Marshal(values.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}
	offsets, err := attributevalue.Marshal(values.Offsets)
	if err != nil {
		return fmt.Errorf("failed to marshal offsets: %w", err)
	}
	updatedAt, err := attributevalue.Marshal(values.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to marshal update time: %w", err)
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 objectKey(objectID),
		UpdateExpression:    aws.String("SET #status = :status, Findings = :findings, Offsets = :offsets, #error = :error, UpdatedAt = :updated"),
		ConditionExpression: aws.String("attribute_exists(ObjectID) AND #status = :inprogress"),
		ExpressionAttributeNames: map[string]string{
			"#status": "Status",
			"#error":  "Error",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(values.Status)},
			":findings":   findings,
			":offsets":    offsets,
			":error":      &types.AttributeValueMemberS{Value: values.Error},
			":updated":    updatedAt,
			":inprogress": &types.AttributeValueMemberS{Value: string(models.StatusInProgress)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return fmt.Errorf("failed to update record %s: %w", objectID, models.ErrRecordNotFound)
			}
			return fmt.Errorf("failed to update record %s: %w", objectID, models.ErrStatusFinal)
		}
		return fmt.Errorf("failed to update record %s: %w", objectID, storeError(err))
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, objectID string) (*models.ModerationRecord, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            objectKey(objectID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", objectID, storeError(err))
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("record %s: %w", objectID, models.ErrRecordNotFound)
	}

	var record models.ModerationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", objectID, err)
	}
	record.Normalize()
	return &record, nil
}

func (s *RecordStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.ModerationRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(OwnerIndex),
		KeyConditionExpression: aws.String("OwnerID = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query records for %s: %w", ownerID, storeError(err))
	}

	records := make([]models.ModerationRecord, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal records: %w", err)
	}
	for i := range records {
		records[i].Normalize()
	}
	return records, nil
}

// EnsureTable creates the table and owner index when they do not exist yet.
func (s *RecordStore) EnsureTable(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table: %w", storeError(err))
	}

	_, err = s.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("ObjectID"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("OwnerID"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SubmittedAt"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("ObjectID"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(OwnerIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("OwnerID"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("SubmittedAt"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return fmt.Errorf("failed to create table: %w", storeError(err))
	}
	s.logger.Info("created table")
	return nil
}

func storeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(models.ErrStoreUnavailable, err)
}
