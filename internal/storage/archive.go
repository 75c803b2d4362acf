// Package storage archives terminal campaign snapshots, to S3 in
// production or to a local directory in development.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

var (
	_ campaign.Archiver = (*S3Archive)(nil)
	_ campaign.Archiver = (*LocalArchive)(nil)
)

// Key returns the object key of a campaign snapshot:
// {prefix}/{yyyy}/{mm}/{dd}/{campaign id}.json, dated by close time.
func Key(prefix string, v campaign.StatusView) string {
	at := v.Campaign.CreatedAt
	if v.Campaign.ClosedAt != nil {
		at = *v.Campaign.ClosedAt
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "campaigns"
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, at.UTC().Format("2006/01/02"), v.Campaign.ID)
}

// S3API is the part of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archive writes snapshots as JSON objects.
type S3Archive struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Archive loads the default AWS config for region.
func NewS3Archive(ctx context.Context, bucket, prefix, region string) (*S3Archive, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewS3ArchiveWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func NewS3ArchiveWithClient(client S3API, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3Archive) Archive(ctx context.Context, v campaign.StatusView) error {
	key := Key(a.prefix, v)
	if err := a.put(ctx, key, v); err != nil {
		return err
	}
	logger.Info("campaign archived", "campaign_id", v.Campaign.ID, "bucket", a.bucket, "key", key)
	return nil
}

func (a *S3Archive) put(ctx context.Context, key string, data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jsonData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

// Load reads a snapshot back by key.
func (a *S3Archive) Load(ctx context.Context, key string) (campaign.StatusView, error) {
	var v campaign.StatusView
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return v, fmt.Errorf("getting object from S3: %w", err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return v, fmt.Errorf("reading S3 object: %w", err)
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return v, nil
}

// LocalArchive writes snapshots under a directory using the same key layout.
type LocalArchive struct {
	dir    string
	prefix string
}

func NewLocalArchive(dir, prefix string) (*LocalArchive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	return &LocalArchive{dir: dir, prefix: prefix}, nil
}

func (a *LocalArchive) Archive(_ context.Context, v campaign.StatusView) error {
	path := filepath.Join(a.dir, filepath.FromSlash(Key(a.prefix, v)))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	logger.Info("campaign archived", "campaign_id", v.Campaign.ID, "path", path)
	return nil
}

// Load reads a snapshot back by key.
func (a *LocalArchive) Load(_ context.Context, key string) (campaign.StatusView, error) {
	var v campaign.StatusView
	data, err := os.ReadFile(filepath.Join(a.dir, filepath.FromSlash(key)))
	if err != nil {
		return v, err
	}
	return v, json.Unmarshal(data, &v)
}
