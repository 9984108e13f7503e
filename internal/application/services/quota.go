package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/domain/asset"
	domain "asset-pipeline/internal/domain/quota"
)

type QuotaService struct {
	quotaRepository domain.Repository
	policy          domain.Policy
	mCounter        *prometheus.CounterVec
	now             func() time.Time
}

func NewQuotaService(
	quotaRepository domain.Repository,
	policy domain.Policy,
	mCounter *prometheus.CounterVec,
) ports.QuotaService {
	return newQuotaService(quotaRepository, policy, mCounter, time.Now)
}

func newQuotaService(
	quotaRepository domain.Repository,
	policy domain.Policy,
	mCounter *prometheus.CounterVec,
	now func() time.Time,
) *QuotaService {
	if policy == nil {
		policy = domain.DefaultPolicy()
	}
	return &QuotaService{
		quotaRepository: quotaRepository,
		policy:          policy,
		mCounter:        mCounter,
		now:             now,
	}
}

func (qs *QuotaService) key(owner domain.Owner, ct asset.ContentType) (domain.Key, domain.Limit) {
	l := qs.policy.LimitFor(owner.Role, ct)
	return domain.Key{OwnerID: owner.ID, ContentType: ct, Period: l.Period}, l
}

func (qs *QuotaService) Reserve(ctx context.Context, owner domain.Owner, ct asset.ContentType) (*domain.Reservation, error) {
	if !ct.Valid() {
		return nil, fmt.Errorf("%w: %q", asset.ErrUnknownContentType, ct)
	}

	key, l := qs.key(owner, ct)
	r, err := qs.quotaRepository.Reserve(ctx, key, domain.WindowStart(l.Period, qs.now()), l.Max)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) && qs.mCounter != nil {
			qs.mCounter.WithLabelValues("quota_rejected_total").Inc()
		}
		return nil, err
	}

	return r, nil
}

// Release is the compensating action for Reserve. Releasing twice is a no-op.
func (qs *QuotaService) Release(ctx context.Context, r *domain.Reservation) error {
	if r == nil {
		return nil
	}
	released, err := qs.quotaRepository.Release(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("release reservation %s: %w", r.ID, err)
	}
	if released && qs.mCounter != nil {
		qs.mCounter.WithLabelValues("quota_released_total").Inc()
	}

	return nil
}

// Refund gives back the unit charged for an asset after its deletion. The counter is the
// one recorded on the committed reservation, so a role change since the upload does not
// move the refund to another period. Monthly counters are never refunded.
func (qs *QuotaService) Refund(ctx context.Context, assetID asset.ID) error {
	refunded, err := qs.quotaRepository.Refund(ctx, assetID)
	if err != nil {
		return fmt.Errorf("refund asset %s: %w", assetID, err)
	}
	if refunded && qs.mCounter != nil {
		qs.mCounter.WithLabelValues("quota_refunded_total").Inc()
	}

	return nil
}

func (qs *QuotaService) Usage(ctx context.Context, owner domain.Owner, ct asset.ContentType) (domain.Usage, error) {
	if !ct.Valid() {
		return domain.Usage{}, fmt.Errorf("%w: %q", asset.ErrUnknownContentType, ct)
	}

	key, l := qs.key(owner, ct)
	c, err := qs.quotaRepository.Counter(ctx, key)
	if err != nil {
		return domain.Usage{}, err
	}

	now := qs.now()
	return domain.NewUsage(ct, l, c.Effective(now), now), nil
}
