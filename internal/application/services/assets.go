package services

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"asset-pipeline/internal/application/ports"
	domain "asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/infrastructure/mq"
	assetdto "asset-pipeline/internal/interface/api/rest/dto/asset"
)

type AssetService struct {
	assetRepository domain.Repository
	quota           ports.QuotaService
	access          ports.AccessService
	mq              ports.RabbitMQ
	logger          *zap.Logger
	mCounter        *prometheus.CounterVec
}

func NewAssetService(
	assetRepository domain.Repository,
	quotaService ports.QuotaService,
	access ports.AccessService,
	mq ports.RabbitMQ,
	logger *zap.Logger,
	mCounter *prometheus.CounterVec,
) ports.AssetService {
	return &AssetService{
		assetRepository: assetRepository,
		quota:           quotaService,
		access:          access,
		mq:              mq,
		logger:          logger,
		mCounter:        mCounter,
	}
}

func (as *AssetService) FindAsset(ctx context.Context, owner domain.OwnerID, id domain.ID) (*domain.Asset, error) {
	return as.assetRepository.FindByID(ctx, owner, id)
}

// DeleteAsset drops one reference. The lifetime quota unit is refunded once the row is
// gone; the object itself is removed asynchronously by the asset.deleted consumer.
func (as *AssetService) DeleteAsset(ctx context.Context, owner quota.Owner, id domain.ID) error {
	d, err := as.assetRepository.Delete(ctx, owner.ID, id)
	if err != nil {
		return err
	}

	if d.RowRemoved {
		if err = as.quota.Refund(ctx, d.Asset.ID); err != nil {
			as.logger.Error("quota refund failed",
				zap.String("owner_id", owner.ID.String()),
				zap.String("asset_id", id.String()),
				zap.Error(err),
			)
		}
	}

	if d.ObjectOrphaned {
		as.access.Invalidate(ctx, d.Asset.StorageKey, d.Asset.Bucket)
		if as.mq != nil {
			as.mq.Publish(mq.NewEvent(mq.RoutingAssetDeleted, assetdto.ToResponseAsset(*d.Asset)))
		}
	}

	if as.mCounter != nil {
		as.mCounter.WithLabelValues("asset_deleted_total").Inc()
	}

	return nil
}
