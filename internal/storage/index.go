package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

var (
	_ campaign.Archiver = (*DynamoIndex)(nil)
	_ campaign.Archiver = Tee(nil)
)

// DynamoAPI is the part of the DynamoDB client the index uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// IndexEntry is one closed campaign of a job. Key points at the snapshot
// written by the archive next to it.
type IndexEntry struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	CampaignID string `dynamodbav:"CampaignID"`
	Status     string `dynamodbav:"Status"`
	Target     int    `dynamodbav:"Target"`
	Responded  int    `dynamodbav:"Responded"`
	Key        string `dynamodbav:"Key"`
	Timestamp  string `dynamodbav:"Timestamp"`
	TTL        int64  `dynamodbav:"TTL,omitempty"`
}

// DynamoIndex records closed campaigns per job so their snapshots can be
// found without listing the bucket.
type DynamoIndex struct {
	client DynamoAPI
	table  string
	prefix string
	ttl    time.Duration
}

// NewDynamoIndex loads the default AWS config for region. A zero ttl keeps
// entries forever.
func NewDynamoIndex(ctx context.Context, table, prefix, region string, ttl time.Duration) (*DynamoIndex, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewDynamoIndexWithClient(dynamodb.NewFromConfig(cfg), table, prefix, ttl), nil
}

func NewDynamoIndexWithClient(client DynamoAPI, table, prefix string, ttl time.Duration) *DynamoIndex {
	return &DynamoIndex{client: client, table: table, prefix: prefix, ttl: ttl}
}

func jobPK(jobID string) string { return "JOB#" + jobID }

func (x *DynamoIndex) Archive(ctx context.Context, v campaign.StatusView) error {
	at := v.Campaign.CreatedAt
	if v.Campaign.ClosedAt != nil {
		at = *v.Campaign.ClosedAt
	}
	stamp := at.UTC().Format(time.RFC3339)
	entry := IndexEntry{
		PK:         jobPK(v.Campaign.JobID),
		SK:         "CAMPAIGN#" + stamp + "#" + v.Campaign.ID,
		CampaignID: v.Campaign.ID,
		Status:     string(v.Campaign.Status),
		Target:     v.Counts.Target,
		Responded:  v.Counts.Responded,
		Key:        Key(x.prefix, v),
		Timestamp:  stamp,
	}
	if x.ttl > 0 {
		entry.TTL = at.Add(x.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshaling index entry: %w", err)
	}
	if _, err := x.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(x.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

// History returns the closed campaigns of a job, oldest first.
func (x *DynamoIndex) History(ctx context.Context, jobID string) ([]IndexEntry, error) {
	result, err := x.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(x.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: jobPK(jobID)},
			":sk": &types.AttributeValueMemberS{Value: "CAMPAIGN#"},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}
	var out []IndexEntry
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling index entries: %w", err)
	}
	return out, nil
}

// Tee archives to every archiver in order. All are tried; failures are
// joined.
type Tee []campaign.Archiver

func (t Tee) Archive(ctx context.Context, v campaign.StatusView) error {
	var errs []error
	for _, a := range t {
		if err := a.Archive(ctx, v); err != nil {
			logger.Warn("archive target failed", "campaign_id", v.Campaign.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
