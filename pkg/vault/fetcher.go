package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	df_config "github.com/driftflag/go-client/pkg/config"
)

// Fetcher defines the interface for reading and writing datafile
// snapshots in durable storage.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, projectID string) (io.ReadCloser, error)
	StoreSnapshot(ctx context.Context, projectID string, data []byte) error
}

// S3Fetcher keeps datafile snapshots in an S3 bucket.
type S3Fetcher struct {
	client     *s3.Client
	bucketName string
	prefix     string
}

// NewS3Fetcher creates a new S3Fetcher.
func NewS3Fetcher(ctx context.Context, cfg *df_config.Config) (*S3Fetcher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	if cfg.VaultRegion != "" {
		awsCfg.Region = cfg.VaultRegion
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.VaultEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.VaultEndpoint)
		}
		if cfg.VaultPathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Fetcher{
		client:     client,
		bucketName: cfg.VaultBucket,
		prefix:     cfg.VaultPrefix,
	}, nil
}

func (f *S3Fetcher) objectKey(projectID string) string {
	key := path.Join(projectID, "datafile.avro")
	if f.prefix != "" {
		key = path.Join(f.prefix, key)
	}
	return strings.TrimPrefix(key, "/")
}

// FetchSnapshot reads the last stored snapshot for a project.
func (f *S3Fetcher) FetchSnapshot(ctx context.Context, projectID string) (io.ReadCloser, error) {
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucketName),
		Key:    aws.String(f.objectKey(projectID)),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// StoreSnapshot persists a snapshot, replacing any previous one.
func (f *S3Fetcher) StoreSnapshot(ctx context.Context, projectID string, data []byte) error {
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucketName),
		Key:    aws.String(f.objectKey(projectID)),
		Body:   bytes.NewReader(data),
	})
	return err
}
