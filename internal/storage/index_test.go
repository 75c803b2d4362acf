package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/domain"
)

// memDynamo keeps items by PK and answers begins_with queries on SK.
type memDynamo struct {
	items  []map[string]types.AttributeValue
	putErr error
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (m *memDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.items = append(m.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	pk := str(in.ExpressionAttributeValues[":pk"])
	sk := str(in.ExpressionAttributeValues[":sk"])
	var out []map[string]types.AttributeValue
	for _, it := range m.items {
		if str(it["PK"]) == pk && strings.HasPrefix(str(it["SK"]), sk) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return str(out[i]["SK"]) < str(out[j]["SK"]) })
	return &dynamodb.QueryOutput{Items: out}, nil
}

func TestDynamoIndexArchiveAndHistory(t *testing.T) {
	db := &memDynamo{}
	x := NewDynamoIndexWithClient(db, "outreach-index", "outreach", 30*24*time.Hour)

	first := snapshot()
	second := snapshot()
	second.Campaign.ID = "camp-0"
	earlier := first.Campaign.ClosedAt.Add(-24 * time.Hour)
	second.Campaign.ClosedAt = &earlier
	second.Campaign.Status = domain.CampaignCancelled

	require.NoError(t, x.Archive(context.Background(), first))
	require.NoError(t, x.Archive(context.Background(), second))

	other := snapshot()
	other.Campaign.JobID = "job-2"
	require.NoError(t, x.Archive(context.Background(), other))

	got, err := x.History(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "camp-0", got[0].CampaignID)
	assert.Equal(t, "cancelled", got[0].Status)
	assert.Equal(t, "camp-1", got[1].CampaignID)
	assert.Equal(t, "outreach/2026/03/04/camp-1.json", got[1].Key)
	assert.Equal(t, 5, got[1].Responded)
	assert.Equal(t, first.Campaign.ClosedAt.Add(30*24*time.Hour).Unix(), got[1].TTL)
}

func TestDynamoIndexPutError(t *testing.T) {
	x := NewDynamoIndexWithClient(&memDynamo{putErr: errors.New("ResourceNotFoundException")}, "missing", "", 0)
	err := x.Archive(context.Background(), snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ResourceNotFoundException")
}

func TestTeeTriesEveryTarget(t *testing.T) {
	s3c := &memS3{objects: map[string][]byte{}}
	tee := Tee{
		NewDynamoIndexWithClient(&memDynamo{putErr: errors.New("throttled")}, "t", "", 0),
		NewS3ArchiveWithClient(s3c, "bucket", ""),
	}
	var _ campaign.Archiver = tee

	err := tee.Archive(context.Background(), snapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Contains(t, s3c.objects, "bucket/campaigns/2026/03/04/camp-1.json", "later targets still run")
}
