// Package docstore archives source invoice documents in S3-compatible
// object storage.
package docstore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/openclerk/invoicedesk/internal/config"
)

// Archive stores the original uploaded documents so a saved invoice can be
// traced back to its source.
type Archive interface {
	// Put uploads one document and returns the object key it was stored under.
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	// PresignGet returns a time-limited download URL for an archived document.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// Delete removes an archived document.
	Delete(ctx context.Context, key string) error
}

type minioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinio creates an Archive backed by a MinIO (or any S3-compatible)
// endpoint, creating the bucket if needed. Returns nil when cfg.Endpoint is
// empty: archival is optional.
func NewMinio(ctx context.Context, cfg config.DocstoreConfig) (Archive, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "docstore: create client")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "docstore: check bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, eris.Wrapf(err, "docstore: create bucket %s", cfg.Bucket)
		}
	}

	return &minioArchive{client: cli, bucket: cfg.Bucket}, nil
}

func (a *minioArchive) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := objectKey(name)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", eris.Wrapf(err, "docstore: put %s", key)
	}
	return key, nil
}

func (a *minioArchive) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, expiry, nil)
	if err != nil {
		return "", eris.Wrapf(err, "docstore: presign %s", key)
	}
	return u.String(), nil
}

func (a *minioArchive) Delete(ctx context.Context, key string) error {
	err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{})
	return eris.Wrapf(err, "docstore: delete %s", key)
}

// objectKey buckets documents by upload date and disambiguates name
// collisions with a random prefix.
func objectKey(name string) string {
	if name == "" {
		name = "document"
	}
	return fmt.Sprintf("%s/%s-%s", time.Now().UTC().Format("2006/01/02"), uuid.New().String()[:8], path.Base(name))
}
