// Package blob reads and writes whole objects in an S3-compatible bucket.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"watchtower/internal/config"
	"watchtower/pkg/circuitbreaker"
)

// ErrNotFound is returned when the object or bucket does not exist.
var ErrNotFound = errors.New("object not found")

type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// NewClient builds a minio client from the storage section of the config.
func NewClient(cfg config.StorageConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return client, nil
}

type MinioStore struct {
	client *minio.Client
}

func NewMinioStore(client *minio.Client) *MinioStore {
	return &MinioStore{client: client}
}

func (s *MinioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(err)
	}
	defer func() {
		_ = obj.Close()
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateError(err)
	}
	return data, nil
}

func (s *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(
		ctx,
		bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentType,
		},
	)
	if err != nil {
		return translateError(err)
	}
	return nil
}

// EnsureBucket creates the bucket if it is missing.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func translateError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.Code == "NoSuchKey",
		resp.Code == "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Message)
	}
	return err
}

// CircuitBreakerStore trips on storage outages. Missing objects do not
// count as failures.
type CircuitBreakerStore struct {
	store   Store
	breaker *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg circuitbreaker.Config) *CircuitBreakerStore {
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrNotFound)
	}
	return &CircuitBreakerStore{
		store:   store,
		breaker: circuitbreaker.NewWrapper(cfg),
	}
}

func (s *CircuitBreakerStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	result, err := s.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Get(ctx, bucket, key)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (s *CircuitBreakerStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Put(ctx, bucket, key, data, contentType)
	})
	return err
}

// ParseURI splits s3://bucket/key. ok is false for anything else.
func ParseURI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
