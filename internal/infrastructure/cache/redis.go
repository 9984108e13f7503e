package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"asset-pipeline/internal/domain/access"
)

const redisKeyPrefix = "signed-url:"

// Redis shares signed URLs between instances. A Redis failure degrades to a cache miss.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewRedis(rdb *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{rdb: rdb, logger: logger, now: time.Now}
}

func (r *Redis) Get(ctx context.Context, key string) (access.SignedURL, bool) {
	raw, err := r.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("url cache get failed", zap.String("key", key), zap.Error(err))
		}
		return access.SignedURL{}, false
	}

	var u access.SignedURL
	if err = json.Unmarshal(raw, &u); err != nil {
		r.logger.Warn("url cache entry corrupt", zap.String("key", key), zap.Error(err))
		return access.SignedURL{}, false
	}
	if !u.ValidAt(r.now()) {
		return access.SignedURL{}, false
	}

	return u, true
}

// Set stores the entry until its ExpiresAt; already expired entries are dropped.
func (r *Redis) Set(ctx context.Context, key string, u access.SignedURL) {
	ttl := u.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(u)
	if err != nil {
		r.logger.Warn("url cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err = r.rdb.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		r.logger.Warn("url cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		r.logger.Warn("url cache delete failed", zap.String("key", key), zap.Error(err))
	}
}
