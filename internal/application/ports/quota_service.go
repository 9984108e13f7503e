package ports

import (
	"context"

	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
)

type QuotaService interface {
	Reserve(ctx context.Context, owner quota.Owner, ct asset.ContentType) (*quota.Reservation, error)
	Release(ctx context.Context, r *quota.Reservation) error
	Refund(ctx context.Context, assetID asset.ID) error
	Usage(ctx context.Context, owner quota.Owner, ct asset.ContentType) (quota.Usage, error)
}
