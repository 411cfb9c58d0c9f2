package s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

// Stager parks fetched documents in an S3 bucket for the duration of one
// pipeline run. It gives operators a copy of the exact bytes a run saw when a
// draft bill needs investigating.
type Stager struct {
	client *minio.Client
	bucket string
	region string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

func New(opts Options) (*Stager, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Stager{client: client, bucket: opts.Bucket, region: opts.Region}, nil
}

// EnsureBucket makes sure the staging bucket exists before use.
func (s *Stager) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *Stager) Stage(ctx context.Context, key string, file *domain.RawFile) error {
	opts := minio.PutObjectOptions{ContentType: file.MIMEType}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(file.Bytes), file.Size(), opts)
	if err != nil {
		return fmt.Errorf("stage object %s: %w", key, err)
	}
	return nil
}

func (s *Stager) Discard(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("discard object %s: %w", key, err)
	}
	return nil
}
