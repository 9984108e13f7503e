//go:build integration

package quota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"asset-pipeline/internal/domain/asset"
	domain "asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/infrastructure/db/postgres"
	assetDB "asset-pipeline/internal/infrastructure/db/postgres/asset"
)

// setupTestDB starts a PostgreSQL container and applies the migrations.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("assets_test"),
		tcpostgres.WithUsername("assets"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, postgres.Migrate(zap.NewNop(), dsn))

	pool, err := postgres.New(ctx, zap.NewNop(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestRepositoryIntegration(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewRepository(pool)
	assets := assetDB.NewRepository(pool)
	ctx := context.Background()

	t.Run("concurrent reserve at the limit admits exactly one", func(t *testing.T) {
		key := domain.Key{OwnerID: uuid.New(), ContentType: asset.Avatar, Period: domain.Lifetime}

		const callers = 20
		var (
			wg       sync.WaitGroup
			admitted atomic.Int32
			rejected atomic.Int32
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Reserve(ctx, key, time.Time{}, 1)
				switch {
				case err == nil:
					admitted.Add(1)
				case errors.Is(err, domain.ErrQuotaExceeded):
					rejected.Add(1)
				default:
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), admitted.Load())
		assert.Equal(t, int32(callers-1), rejected.Load())

		c, err := repo.Counter(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Current)
	})

	t.Run("refund after deletion uses the charged counter", func(t *testing.T) {
		owner := uuid.New()
		key := domain.Key{OwnerID: owner, ContentType: asset.Avatar, Period: domain.Lifetime}

		r, err := repo.Reserve(ctx, key, time.Time{}, 3)
		require.NoError(t, err)

		a, err := assets.Record(ctx, &asset.Asset{
			ID:          uuid.New(),
			OwnerID:     owner,
			ContentType: asset.Avatar,
			Digest:      strings.Repeat("a", 64),
			Bucket:      "images",
			StorageKey:  owner.String() + "/avatar/a.png",
			MimeType:    "image/png",
			ByteSize:    10,
		}, r.ID)
		require.NoError(t, err)

		d, err := assets.Delete(ctx, owner, a.ID)
		require.NoError(t, err)
		require.True(t, d.RowRemoved)

		refunded, err := repo.Refund(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, refunded)

		refunded, err = repo.Refund(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, refunded)

		c, err := repo.Counter(ctx, key)
		require.NoError(t, err)
		assert.Zero(t, c.Current)
	})
}
