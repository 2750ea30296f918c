// Package blob turns stored attachment references into ephemeral fetch URLs.
package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Resolver resolves blob references to URLs and deletes blobs on message
// removal. Implementations must tolerate unknown refs.
type Resolver interface {
	URL(ctx context.Context, ref string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// MinioResolver signs ephemeral GET URLs against a MinIO (or S3-compatible)
// bucket. The core never stores bytes; it only holds object refs.
type MinioResolver struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewMinioResolver(endpoint, accessKey, secretKey, bucket string, useSSL bool, ttl time.Duration) (*MinioResolver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioResolver{client: client, bucket: bucket, ttl: ttl}, nil
}

func (r *MinioResolver) URL(ctx context.Context, ref string) (string, error) {
	signed, err := r.client.PresignedGetObject(ctx, r.bucket, ref, r.ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", ref, err)
	}
	return signed.String(), nil
}

func (r *MinioResolver) Delete(ctx context.Context, ref string) error {
	if err := r.client.RemoveObject(ctx, r.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", ref, err)
	}
	return nil
}
