package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"asset-pipeline/config"
	"asset-pipeline/internal/application/ports"
	domain "asset-pipeline/internal/domain/access"
)

const signSafetyMargin = 30 * time.Second

type AccessService struct {
	cfg            config.Access
	privateBucket  string
	fallbackBucket string
	publicBucket   string
	signer         ports.Signer
	cache          ports.URLCache
	breaker        *gobreaker.CircuitBreaker
	group          singleflight.Group
	logger         *zap.Logger
	mCounter       *prometheus.CounterVec
	now            func() time.Time
}

func NewAccessService(
	cfg config.Access,
	buckets config.S3,
	signer ports.Signer,
	cache ports.URLCache,
	logger *zap.Logger,
	mCounter *prometheus.CounterVec,
) ports.AccessService {
	return newAccessService(cfg, buckets, signer, cache, logger, mCounter, time.Now)
}

func newAccessService(
	cfg config.Access,
	buckets config.S3,
	signer ports.Signer,
	cache ports.URLCache,
	logger *zap.Logger,
	mCounter *prometheus.CounterVec,
	now func() time.Time,
) *AccessService {
	as := &AccessService{
		cfg:            cfg,
		privateBucket:  buckets.BucketPrivate,
		fallbackBucket: buckets.BucketFallback,
		publicBucket:   buckets.BucketPublic,
		signer:         signer,
		cache:          cache,
		logger:         logger,
		mCounter:       mCounter,
		now:            now,
	}
	as.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "url-signer",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a missing object is an answer, not a backend failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ports.ErrObjectNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return as
}

// Resolve turns a storage key into a URL. Objects in the public bucket get their stable
// URL; anything else is served from cache while valid, otherwise signed against the
// requested bucket and then the fallback bucket. The public flag only selects the public
// bucket when no bucket is given.
func (as *AccessService) Resolve(ctx context.Context, req domain.Request) (domain.SignedURL, error) {
	if req.StorageKey == "" {
		return domain.SignedURL{}, fmt.Errorf("%w: empty storage key", domain.ErrImageUnavailable)
	}

	bucket := req.Bucket
	if bucket == "" {
		bucket = as.privateBucket
		if req.Public {
			bucket = as.publicBucket
		}
	}
	if bucket == as.publicBucket {
		return domain.SignedURL{URL: as.signer.PublicURL(bucket, req.StorageKey)}, nil
	}

	key := domain.CacheKey(bucket, req.StorageKey)
	if u, ok := as.cache.Get(ctx, key); ok && u.ValidAt(as.now()) {
		as.count("signed_url_cache_hit_total")
		return u, nil
	}

	v, err, _ := as.group.Do(key, func() (interface{}, error) {
		u, err := as.sign(ctx, bucket, req.StorageKey)
		if err != nil && bucket != as.fallbackBucket && as.fallbackBucket != "" {
			as.logger.Debug("signing failed, trying fallback bucket",
				zap.String("bucket", bucket),
				zap.String("storage_key", req.StorageKey),
				zap.Error(err),
			)
			u, err = as.sign(ctx, as.fallbackBucket, req.StorageKey)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrImageUnavailable, key, err)
		}

		as.cache.Set(ctx, key, u)
		as.count("signed_url_issued_total")

		return u, nil
	})
	if err != nil {
		return domain.SignedURL{}, err
	}

	return v.(domain.SignedURL), nil
}

// ResolveWithRetry retries ImageUnavailable a few times with a constant delay; freshly
// uploaded objects are sometimes not yet visible to the signer.
func (as *AccessService) ResolveWithRetry(ctx context.Context, req domain.Request) (domain.SignedURL, error) {
	var out domain.SignedURL

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(as.cfg.ReadRetryDelay), uint64(max(as.cfg.ReadRetries, 0))),
		ctx,
	)
	err := backoff.Retry(func() error {
		u, err := as.Resolve(ctx, req)
		if err != nil {
			if errors.Is(err, domain.ErrImageUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = u
		return nil
	}, policy)

	return out, err
}

func (as *AccessService) Invalidate(ctx context.Context, storageKey, bucket string) {
	if bucket == "" {
		bucket = as.privateBucket
	}
	as.cache.Delete(ctx, domain.CacheKey(bucket, storageKey))
}

func (as *AccessService) sign(ctx context.Context, bucket, storageKey string) (domain.SignedURL, error) {
	ttl := as.cfg.SignedURLTTL
	issuedAt := as.now()

	v, err := as.breaker.Execute(func() (interface{}, error) {
		return as.signer.Presign(ctx, bucket, storageKey, ttl)
	})
	if err != nil {
		return domain.SignedURL{}, err
	}

	margin := signSafetyMargin
	if ttl <= 2*margin {
		margin = ttl / 2
	}

	return domain.SignedURL{URL: v.(string), ExpiresAt: issuedAt.Add(ttl - margin)}, nil
}

func (as *AccessService) count(result string) {
	if as.mCounter != nil {
		as.mCounter.WithLabelValues(result).Inc()
	}
}
