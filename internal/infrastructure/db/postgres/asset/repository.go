package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domain "asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/infrastructure/db/postgres"
)

type Repository struct {
	db postgres.DB
}

func NewRepository(db postgres.DB) domain.Repository {
	return &Repository{db: db}
}

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	a := new(Asset)

	if err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.ContentType,

		&a.Digest,
		&a.Bucket,
		&a.StorageKey,
		&a.FileName,
		&a.MimeType,
		&a.ByteSize,
		&a.Width,
		&a.Height,
		&a.RefCount,

		&a.CreatedAt,
	); err != nil {
		return nil, err
	}

	return fromDBModel(a), nil
}

func (r *Repository) FindByDigest(ctx context.Context, owner domain.OwnerID, digest string) (*domain.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, SelectAssetByDigest, owner, digest))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	return a, err
}

func (r *Repository) FindByID(ctx context.Context, owner domain.OwnerID, id domain.ID) (*domain.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, SelectAssetByID, owner, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}

	return a, err
}

func (r *Repository) Record(ctx context.Context, req *domain.Asset, reservationID uuid.UUID) (*domain.Asset, error) {
	var out *domain.Asset

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		out, err = scanAsset(tx.QueryRow(
			ctx,
			InsertAsset,
			req.ID, req.OwnerID, req.ContentType.String(), req.Digest, req.Bucket, req.StorageKey,
			req.FileName, req.MimeType, req.ByteSize, int32(req.Width), int32(req.Height),
		))
		if err != nil {
			if postgres.IsPgUniqueViolation(err) {
				return domain.ErrDuplicateDigest
			}
			return fmt.Errorf("insert asset: %w", err)
		}

		tag, err := tx.Exec(ctx, CommitReservation, reservationID, out.ID)
		if err != nil {
			return fmt.Errorf("commit reservation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("commit reservation %s: %w", reservationID, quota.ErrReservationNotFound)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *Repository) Link(ctx context.Context, id domain.ID) (*domain.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, LinkAsset, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}

	return a, err
}

// Delete drops one reference; the row goes away with the last one.
func (r *Repository) Delete(ctx context.Context, owner domain.OwnerID, id domain.ID) (*domain.Deletion, error) {
	d := new(domain.Deletion)

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		a, err := scanAsset(tx.QueryRow(ctx, UnlinkAsset, owner, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("unlink asset: %w", err)
		}
		d.Asset = a

		if a.RefCount > 0 {
			return nil
		}

		if _, err = tx.Exec(ctx, DeleteAsset, id); err != nil {
			return fmt.Errorf("delete asset: %w", err)
		}
		d.RowRemoved = true

		var inUse bool
		if err = tx.QueryRow(ctx, StorageKeyInUseByOwner, owner, a.Bucket, a.StorageKey).Scan(&inUse); err != nil {
			return fmt.Errorf("storage key lookup: %w", err)
		}
		d.ObjectOrphaned = !inUse

		return nil
	})
	if err != nil {
		return nil, err
	}

	return d, nil
}

func (r *Repository) StorageKeyExists(ctx context.Context, bucket, key string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, StorageKeyInUse, bucket, key).Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}
