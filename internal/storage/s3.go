// Package storage holds uploaded import files in S3 and streams them back
// to the pipeline.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the blob store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// BlobStore provides upload and streaming reads over one S3 bucket. Open
// returns an independent stream each call, so the pipeline can run its
// count pass and main pass over the same object.
type BlobStore struct {
	client S3API
	bucket string
}

// New creates an S3-backed blob store using the default AWS config chain.
func New(ctx context.Context, bucket, region, profile string) (*BlobStore, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &BlobStore{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(client S3API, bucket string) *BlobStore {
	return &BlobStore{client: client, bucket: bucket}
}

// UploadKey builds the object key for a job's import file:
// uploads/job_{id}/{timestamp}_{filename}.
func UploadKey(jobID, fileName string) string {
	return fmt.Sprintf("uploads/job_%s/%s_%s", jobID, time.Now().UTC().Format("20060102_150405"), fileName)
}

// Upload stores the file body under the given key.
func (b *BlobStore) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s to S3: %w", key, err)
	}
	return nil
}

// Open returns a streaming reader over the stored object. The caller owns
// the returned stream and must close it.
func (b *BlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s from S3: %w", key, err)
	}
	return out.Body, nil
}
