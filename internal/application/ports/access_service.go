package ports

import (
	"context"

	"asset-pipeline/internal/domain/access"
)

type AccessService interface {
	Resolve(ctx context.Context, req access.Request) (access.SignedURL, error)
	ResolveWithRetry(ctx context.Context, req access.Request) (access.SignedURL, error)
	Invalidate(ctx context.Context, storageKey, bucket string)
}
