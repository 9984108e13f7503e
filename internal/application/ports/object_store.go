package ports

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoragePermanent marks storage failures that a retry cannot fix (4xx responses).
	ErrStoragePermanent = errors.New("permanent storage error")
	ErrObjectNotFound   = errors.New("object not found")
)

type (
	ObjectInfo struct {
		Key          string
		Size         int64
		LastModified time.Time
	}

	ObjectStore interface {
		Put(ctx context.Context, bucket, key, contentType string, body []byte) error
		Delete(ctx context.Context, bucket, key string) error
		// List calls fn for every object under prefix; a non-nil error from fn stops the walk.
		List(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error
		PrivateBucket() string
	}

	Signer interface {
		// Presign fails when the object does not exist in bucket.
		Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
		PublicURL(bucket, key string) string
	}
)
