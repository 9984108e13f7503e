package ports

import (
	"context"

	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
)

type AssetService interface {
	FindAsset(ctx context.Context, owner asset.OwnerID, id asset.ID) (*asset.Asset, error)
	DeleteAsset(ctx context.Context, owner quota.Owner, id asset.ID) error
}
