package asset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
)

var columns = []string{
	"id", "owner_id", "content_type", "digest", "bucket", "storage_key", "file_name",
	"mime_type", "byte_size", "width", "height", "ref_count", "created_at",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func sampleAsset() *domain.Asset {
	owner := uuid.New()
	digest := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	return &domain.Asset{
		ID:          uuid.New(),
		OwnerID:     owner,
		ContentType: domain.TaskImage,
		Digest:      digest,
		Bucket:      "images",
		StorageKey:  domain.StorageKey(owner, domain.TaskImage, digest, ".png"),
		FileName:    "cat.png",
		MimeType:    "image/png",
		ByteSize:    1234,
		Width:       192,
		Height:      128,
		RefCount:    1,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func rowOf(a *domain.Asset, refCount int32) *pgxmock.Rows {
	return pgxmock.NewRows(columns).AddRow(
		a.ID, a.OwnerID, a.ContentType.String(), a.Digest, a.Bucket, a.StorageKey, a.FileName,
		a.MimeType, a.ByteSize, int32(a.Width), int32(a.Height), refCount, a.CreatedAt,
	)
}

func TestRepository_FindByDigest(t *testing.T) {
	ctx := context.Background()
	a := sampleAsset()

	t.Run("hit", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(SelectAssetByDigest).WithArgs(a.OwnerID, a.Digest).WillReturnRows(rowOf(a, 1))

		got, err := NewRepository(mock).FindByDigest(ctx, a.OwnerID, a.Digest)
		require.NoError(t, err)
		assert.Equal(t, a, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss is not an error", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(SelectAssetByDigest).WithArgs(a.OwnerID, a.Digest).WillReturnRows(pgxmock.NewRows(columns))

		got, err := NewRepository(mock).FindByDigest(ctx, a.OwnerID, a.Digest)
		require.NoError(t, err)
		assert.Nil(t, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_FindByID_NotFound(t *testing.T) {
	mock := newMock(t)
	owner, id := uuid.New(), uuid.New()
	mock.ExpectQuery(SelectAssetByID).WithArgs(owner, id).WillReturnRows(pgxmock.NewRows(columns))

	_, err := NewRepository(mock).FindByID(context.Background(), owner, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Record(t *testing.T) {
	ctx := context.Background()
	a := sampleAsset()
	reservationID := uuid.New()

	insertArgs := []any{
		a.ID, a.OwnerID, "task_image", a.Digest, a.Bucket, a.StorageKey,
		a.FileName, a.MimeType, a.ByteSize, int32(192), int32(128),
	}

	tests := []struct {
		name    string
		setup   func(m pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name: "insert and commit reservation",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectQuery(InsertAsset).WithArgs(insertArgs...).WillReturnRows(rowOf(a, 1))
				m.ExpectExec(CommitReservation).WithArgs(reservationID, a.ID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				m.ExpectCommit()
			},
		},
		{
			name: "concurrent writer won",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectQuery(InsertAsset).WithArgs(insertArgs...).WillReturnError(&pgconn.PgError{Code: "23505"})
				m.ExpectRollback()
			},
			wantErr: domain.ErrDuplicateDigest,
		},
		{
			name: "reservation already released",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectQuery(InsertAsset).WithArgs(insertArgs...).WillReturnRows(rowOf(a, 1))
				m.ExpectExec(CommitReservation).WithArgs(reservationID, a.ID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				m.ExpectRollback()
			},
			wantErr: quota.ErrReservationNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)

			got, err := NewRepository(mock).Record(ctx, a, reservationID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, a.ID, got.ID)
				assert.Equal(t, 1, got.RefCount)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_Link(t *testing.T) {
	mock := newMock(t)
	a := sampleAsset()
	mock.ExpectQuery(LinkAsset).WithArgs(a.ID).WillReturnRows(rowOf(a, 2))

	got, err := NewRepository(mock).Link(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RefCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Delete(t *testing.T) {
	ctx := context.Background()
	a := sampleAsset()

	tests := []struct {
		name        string
		setup       func(m pgxmock.PgxPoolIface)
		wantRemoved bool
		wantOrphan  bool
		wantErr     error
	}{
		{
			name: "other references remain",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectQuery(UnlinkAsset).WithArgs(a.OwnerID, a.ID).WillReturnRows(rowOf(a, 1))
				m.ExpectCommit()
			},
		},
		{
			name: "last reference removes row and orphans object",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectQuery(UnlinkAsset).WithArgs(a.OwnerID, a.ID).WillReturnRows(rowOf(a, 0))
				m.ExpectExec(DeleteAsset).WithArgs(a.ID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
				m.ExpectQuery(StorageKeyInUseByOwner).WithArgs(a.OwnerID, a.Bucket, a.StorageKey).
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
				m.ExpectCommit()
			},
			wantRemoved: true,
			wantOrphan:  true,
		},
		{
			name: "key still used by another avatar row",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectQuery(UnlinkAsset).WithArgs(a.OwnerID, a.ID).WillReturnRows(rowOf(a, 0))
				m.ExpectExec(DeleteAsset).WithArgs(a.ID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
				m.ExpectQuery(StorageKeyInUseByOwner).WithArgs(a.OwnerID, a.Bucket, a.StorageKey).
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
				m.ExpectCommit()
			},
			wantRemoved: true,
		},
		{
			name: "unknown asset",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectBegin()
				m.ExpectQuery(UnlinkAsset).WithArgs(a.OwnerID, a.ID).WillReturnRows(pgxmock.NewRows(columns))
				m.ExpectRollback()
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)

			d, err := NewRepository(mock).Delete(ctx, a.OwnerID, a.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantRemoved, d.RowRemoved)
				assert.Equal(t, tt.wantOrphan, d.ObjectOrphaned)
				assert.Equal(t, a.StorageKey, d.Asset.StorageKey)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_StorageKeyExists(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(StorageKeyInUse).WithArgs("images", "k").WillReturnError(errors.New("conn reset"))

	_, err := NewRepository(mock).StorageKeyExists(context.Background(), "images", "k")
	assert.EqualError(t, err, "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}
