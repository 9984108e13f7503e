package ports

import (
	"context"

	"asset-pipeline/internal/domain/access"
)

// URLCache stores signed URLs by access.CacheKey. Implementations never return an
// entry past its ExpiresAt.
type URLCache interface {
	Get(ctx context.Context, key string) (access.SignedURL, bool)
	Set(ctx context.Context, key string, u access.SignedURL)
	Delete(ctx context.Context, key string)
}
