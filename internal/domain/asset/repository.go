package asset

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("asset not found")
	ErrDuplicateDigest = errors.New("asset with the same digest already exists")
)

type Repository interface {
	// FindByDigest returns nil, nil when the owner has no deduplicated asset with that digest.
	FindByDigest(ctx context.Context, owner OwnerID, digest string) (*Asset, error)
	FindByID(ctx context.Context, owner OwnerID, id ID) (*Asset, error)
	// Record inserts the asset and commits the quota reservation in one transaction.
	// Returns ErrDuplicateDigest when a concurrent writer committed the same digest first.
	Record(ctx context.Context, a *Asset, reservationID uuid.UUID) (*Asset, error)
	// Link adds one reference to an existing asset.
	Link(ctx context.Context, id ID) (*Asset, error)
	Delete(ctx context.Context, owner OwnerID, id ID) (*Deletion, error)
	StorageKeyExists(ctx context.Context, bucket, key string) (bool, error)
}
