package upstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStore stores photo bytes and returns their storage key and URL.
type BlobStore interface {
	PutBlob(ctx context.Context, data []byte, contentType string) (key string, url string, err error)
}

// S3Config configures an S3-compatible photo bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
	// PublicBaseURL prefixes storage keys to form photo URLs. When empty,
	// URLs point at the endpoint and bucket.
	PublicBaseURL string
}

// S3Store uploads photos to an S3-compatible bucket.
type S3Store struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewS3Store builds an S3Store. It does not contact the endpoint.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	publicBase := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBase = scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
	}
	return &S3Store{client: client, bucket: cfg.Bucket, publicBase: publicBase}, nil
}

// PutBlob stores data under a content-addressed key, so replaying the same
// upload twice writes the same object.
func (s *S3Store) PutBlob(ctx context.Context, data []byte, contentType string) (string, string, error) {
	key := blobKey(data, contentType)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", "", fmt.Errorf("put photo object: %w", err)
	}
	return key, s.publicBase + "/" + key, nil
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

func blobKey(data []byte, contentType string) string {
	return fmt.Sprintf("photos/sha256/%x%s", sha256.Sum256(data), extensions[contentType])
}
