package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domain "asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/infrastructure/db/postgres"
)

type Repository struct {
	db postgres.DB
}

func NewRepository(db postgres.DB) domain.Repository {
	return &Repository{db: db}
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	r := new(Reservation)
	err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&r.ContentType,
		&r.Period,
		&r.WindowStart,
		&r.Status,
		&r.CreatedAt,
	)
	return r, err
}

func (r *Repository) Reserve(
	ctx context.Context,
	key domain.Key,
	windowStart time.Time,
	limit int64,
) (*domain.Reservation, error) {
	var out *domain.Reservation
	owner, ct, period := key.OwnerID, key.ContentType.String(), string(key.Period)

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, EnsureCounter, owner, ct, period, windowStart); err != nil {
			return fmt.Errorf("ensure counter: %w", err)
		}

		var current int64
		err := tx.QueryRow(ctx, IncrementCounter, owner, ct, period, windowStart, limit).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			if err = tx.QueryRow(ctx, SelectEffectiveCounter, owner, ct, period, windowStart).Scan(&current); err != nil {
				return fmt.Errorf("read counter: %w", err)
			}
			return &domain.ExceededError{ContentType: key.ContentType, Current: current, Limit: limit}
		}
		if err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}

		res, err := scanReservation(tx.QueryRow(ctx, InsertReservation, owner, ct, period, windowStart))
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		out = fromDBReservation(res)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *Repository) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	released := false

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		res, err := scanReservation(tx.QueryRow(ctx, ReleaseReservation, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}

		if _, err = tx.Exec(ctx, DecrementWindow, res.OwnerID, res.ContentType, res.Period, res.WindowStart); err != nil {
			return fmt.Errorf("decrement counter: %w", err)
		}
		released = true

		return nil
	})

	return released, err
}

func (r *Repository) Refund(ctx context.Context, assetID uuid.UUID) (bool, error) {
	refunded := false

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		res, err := scanReservation(tx.QueryRow(ctx, RefundReservation, assetID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("refund reservation: %w", err)
		}
		refunded = true

		// monthly usage is never given back
		if domain.Period(res.Period) != domain.Lifetime {
			return nil
		}
		if _, err = tx.Exec(ctx, DecrementCounter, res.OwnerID, res.ContentType, res.Period); err != nil {
			return fmt.Errorf("decrement counter: %w", err)
		}

		return nil
	})

	return refunded, err
}

func (r *Repository) Counter(ctx context.Context, key domain.Key) (*domain.Counter, error) {
	c := new(Counter)

	err := r.db.QueryRow(ctx, SelectCounter, key.OwnerID, key.ContentType.String(), string(key.Period)).Scan(
		&c.OwnerID,
		&c.ContentType,
		&c.Period,
		&c.Current,
		&c.WindowStart,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return fromDBCounter(c), nil
}

func (r *Repository) StaleReservations(ctx context.Context, before time.Time, limit int) (domain.Reservations, error) {
	rows, err := r.db.Query(ctx, SelectStaleReservations, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rs Reservations
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		rs = append(rs, res)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return fromDBReservations(rs), nil
}
