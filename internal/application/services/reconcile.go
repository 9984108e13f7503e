package services

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"asset-pipeline/config"
	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
)

const staleReservationBatch = 500

type ReconcileResult struct {
	ObjectsScanned       int
	ObjectsDeleted       int
	ReservationsReleased int
	Errors               int
	Duration             time.Duration
}

// ReconcileService sweeps what crashed or abandoned runs leave behind: objects with no
// asset row and reservations that never committed. Both are only touched once they are
// older than the grace period, so in-flight runs are never raced.
type ReconcileService struct {
	cfg             config.Reconcile
	assetRepository asset.Repository
	quotaRepository quota.Repository
	quota           ports.QuotaService
	objects         ports.ObjectStore
	logger          *zap.Logger
	mCounter        *prometheus.CounterVec
	now             func() time.Time

	mu sync.Mutex
}

func NewReconcileService(
	cfg config.Reconcile,
	assetRepository asset.Repository,
	quotaRepository quota.Repository,
	quotaService ports.QuotaService,
	objects ports.ObjectStore,
	logger *zap.Logger,
	mCounter *prometheus.CounterVec,
) *ReconcileService {
	return &ReconcileService{
		cfg:             cfg,
		assetRepository: assetRepository,
		quotaRepository: quotaRepository,
		quota:           quotaService,
		objects:         objects,
		logger:          logger,
		mCounter:        mCounter,
		now:             time.Now,
	}
}

// Worker runs one sweep immediately and then one per interval until ctx is done.
func (rs *ReconcileService) Worker(ctx context.Context) {
	rs.logger.Info("starting reconcile worker", zap.Duration("interval", rs.cfg.Interval))

	defer func() {
		rs.logger.Info("reconcile worker gracefully stopped")
	}()

	rs.RunOnce(ctx)

	ticker := time.NewTicker(rs.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce is safe to call concurrently; overlapping calls run one after another.
func (rs *ReconcileService) RunOnce(ctx context.Context) *ReconcileResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	start := time.Now()
	cutoff := rs.now().Add(-rs.cfg.Grace)
	result := &ReconcileResult{}

	rs.sweepObjects(ctx, cutoff, result)
	rs.sweepReservations(ctx, cutoff, result)

	result.Duration = time.Since(start)

	if rs.mCounter != nil {
		rs.mCounter.WithLabelValues("reconcile_runs_total").Inc()
		rs.mCounter.WithLabelValues("reconcile_objects_deleted_total").Add(float64(result.ObjectsDeleted))
		rs.mCounter.WithLabelValues("reconcile_reservations_released_total").Add(float64(result.ReservationsReleased))
	}

	rs.logger.Info("reconcile finished",
		zap.Int("objects_scanned", result.ObjectsScanned),
		zap.Int("objects_deleted", result.ObjectsDeleted),
		zap.Int("reservations_released", result.ReservationsReleased),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration),
	)

	return result
}

func (rs *ReconcileService) sweepObjects(ctx context.Context, cutoff time.Time, result *ReconcileResult) {
	bucket := rs.objects.PrivateBucket()

	err := rs.objects.List(ctx, bucket, "", func(obj ports.ObjectInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.ObjectsScanned++
		if obj.LastModified.After(cutoff) {
			return nil
		}

		referenced, err := rs.assetRepository.StorageKeyExists(ctx, bucket, obj.Key)
		if err != nil {
			rs.logger.Error("reconcile: orphan check failed", zap.String("key", obj.Key), zap.Error(err))
			result.Errors++
			return nil
		}
		if referenced {
			return nil
		}

		if err = rs.objects.Delete(ctx, bucket, obj.Key); err != nil {
			rs.logger.Error("reconcile: object delete failed", zap.String("key", obj.Key), zap.Error(err))
			result.Errors++
			return nil
		}
		rs.logger.Debug("reconcile: orphaned object deleted", zap.String("key", obj.Key))
		result.ObjectsDeleted++

		return nil
	})
	if err != nil {
		rs.logger.Error("reconcile: listing objects failed", zap.String("bucket", bucket), zap.Error(err))
		result.Errors++
	}
}

func (rs *ReconcileService) sweepReservations(ctx context.Context, cutoff time.Time, result *ReconcileResult) {
	stale, err := rs.quotaRepository.StaleReservations(ctx, cutoff, staleReservationBatch)
	if err != nil {
		rs.logger.Error("reconcile: listing stale reservations failed", zap.Error(err))
		result.Errors++
		return
	}

	for _, r := range stale {
		if err = rs.quota.Release(ctx, r); err != nil {
			rs.logger.Error("reconcile: release failed", zap.String("reservation_id", r.ID.String()), zap.Error(err))
			result.Errors++
			continue
		}
		result.ReservationsReleased++
	}
}
