package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
)

const (
	jobIDIndexName = "job_id-index"
	batchGetLimit  = 100
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB
type DynamoDBStorage struct {
	client    dynamodbiface.DynamoDBAPI
	jobsTable string
	adsTable  string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := newDynamoDBStorage(dynamodb.New(sess), cfg.TablePrefix)
	if err := storage.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure tables exist: %w", err)
	}

	return storage, nil
}

func newDynamoDBStorage(client dynamodbiface.DynamoDBAPI, prefix string) *DynamoDBStorage {
	return &DynamoDBStorage{
		client:    client,
		jobsTable: prefix + "_jobs",
		adsTable:  prefix + "_ads",
	}
}

// ensureTables creates the jobs and ads tables if they don't exist
func (d *DynamoDBStorage) ensureTables() error {
	jobs := &dynamodb.CreateTableInput{
		TableName: aws.String(d.jobsTable),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: aws.String("HASH")},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: aws.String("S")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	ads := &dynamodb.CreateTableInput{
		TableName: aws.String(d.adsTable),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: aws.String("HASH")},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("job_id"), AttributeType: aws.String("S")},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(jobIDIndexName),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String("job_id"), KeyType: aws.String("HASH")},
				},
				Projection: &dynamodb.Projection{ProjectionType: aws.String("ALL")},
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	for _, input := range []*dynamodb.CreateTableInput{jobs, ads} {
		if err := d.ensureTable(input); err != nil {
			return err
		}
	}
	return nil
}

func (d *DynamoDBStorage) ensureTable(input *dynamodb.CreateTableInput) error {
	describe := &dynamodb.DescribeTableInput{TableName: input.TableName}
	if _, err := d.client.DescribeTable(describe); err == nil {
		return nil // Table already exists
	}

	if _, err := d.client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", aws.StringValue(input.TableName), err)
	}

	return d.client.WaitUntilTableExists(describe)
}

// GetPendingAdsByIDs fetches the given ads with BatchGetItem and keeps pending ones
func (d *DynamoDBStorage) GetPendingAdsByIDs(ctx context.Context, ids []string) ([]models.Ad, error) {
	unique := uniqueIDs(ids)
	var found []models.Ad

	for start := 0; start < len(unique); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(unique) {
			end = len(unique)
		}

		keys := make([]map[string]*dynamodb.AttributeValue, 0, end-start)
		for _, id := range unique[start:end] {
			keys = append(keys, map[string]*dynamodb.AttributeValue{"id": {S: aws.String(id)}})
		}

		request := map[string]*dynamodb.KeysAndAttributes{d.adsTable: {Keys: keys}}
		for len(request) > 0 {
			result, err := d.client.BatchGetItemWithContext(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("failed to batch get ads: %w", err)
			}

			var ads []models.Ad
			if err := dynamodbattribute.UnmarshalListOfMaps(result.Responses[d.adsTable], &ads); err != nil {
				return nil, fmt.Errorf("failed to unmarshal ads: %w", err)
			}
			found = append(found, ads...)
			request = result.UnprocessedKeys
		}
	}

	return orderByIDs(ids, found), nil
}

// GetAdsByJob queries the job_id index for all ads of a job
func (d *DynamoDBStorage) GetAdsByJob(ctx context.Context, jobID string) ([]models.Ad, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.adsTable),
		IndexName:              aws.String(jobIDIndexName),
		KeyConditionExpression: aws.String("job_id = :job"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":job": {S: aws.String(jobID)},
		},
	}

	ads := make([]models.Ad, 0)
	for {
		result, err := d.client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query ads for job %s: %w", jobID, err)
		}

		var page []models.Ad
		if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ads: %w", err)
		}
		ads = append(ads, page...)

		if len(result.LastEvaluatedKey) == 0 {
			return ads, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// ListPendingAds scans the ads table for pending rows
func (d *DynamoDBStorage) ListPendingAds(ctx context.Context) ([]models.Ad, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(d.adsTable),
		FilterExpression: aws.String("download_status = :pending"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":pending": {S: aws.String(string(models.DownloadStatusPending))},
		},
	}

	ads := make([]models.Ad, 0)
	for {
		result, err := d.client.ScanWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending ads: %w", err)
		}

		var page []models.Ad
		if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ads: %w", err)
		}
		ads = append(ads, page...)

		if len(result.LastEvaluatedKey) == 0 {
			return ads, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// GetJob retrieves a specific job by ID
func (d *DynamoDBStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.jobsTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	if result.Item == nil {
		return nil, nil // Job not found
	}

	var job models.Job
	if err := dynamodbattribute.UnmarshalMap(result.Item, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// UpdateAd writes download fields with a conditional UpdateItem
func (d *DynamoDBStorage) UpdateAd(ctx context.Context, id string, update models.AdUpdate) error {
	set := []string{"download_status = :status", "updated_at = :updated"}
	var remove []string
	values := map[string]*dynamodb.AttributeValue{
		":status":  {S: aws.String(string(update.Status))},
		":updated": {S: aws.String(time.Now().UTC().Format(time.RFC3339Nano))},
	}

	if update.Error != "" {
		set = append(set, "download_error = :error")
		values[":error"] = &dynamodb.AttributeValue{S: aws.String(update.Error)}
	} else {
		remove = append(remove, "download_error")
	}
	if update.LocalMediaURL != nil {
		set = append(set, "local_media_url = :media")
		values[":media"] = &dynamodb.AttributeValue{S: update.LocalMediaURL}
	}
	if update.LocalThumbnailURL != nil {
		set = append(set, "local_thumbnail_url = :thumb")
		values[":thumb"] = &dynamodb.AttributeValue{S: update.LocalThumbnailURL}
	}

	expr := "SET " + strings.Join(set, ", ")
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}

	_, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.adsTable),
		Key:                       map[string]*dynamodb.AttributeValue{"id": {S: aws.String(id)}},
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return d.wrapUpdateErr("ad", id, err)
	}
	return nil
}

// UpdateJobProgress writes the aggregate counters of a job
func (d *DynamoDBStorage) UpdateJobProgress(ctx context.Context, id string, progress models.JobProgress) error {
	_, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.jobsTable),
		Key:                 map[string]*dynamodb.AttributeValue{"id": {S: aws.String(id)}},
		UpdateExpression:    aws.String("SET total_ads = :total, downloaded_ads = :downloaded, #status = :status, updated_at = :updated"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		// status is a DynamoDB reserved word
		ExpressionAttributeNames: map[string]*string{"#status": aws.String("status")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":total":      {N: aws.String(fmt.Sprint(progress.TotalCount))},
			":downloaded": {N: aws.String(fmt.Sprint(progress.DownloadedCount))},
			":status":     {S: aws.String(string(progress.Status))},
			":updated":    {S: aws.String(time.Now().UTC().Format(time.RFC3339Nano))},
		},
	})
	if err != nil {
		return d.wrapUpdateErr("job", id, err)
	}
	return nil
}

func (d *DynamoDBStorage) wrapUpdateErr(kind, id string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to update %s %s: %w", kind, id, err)
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
