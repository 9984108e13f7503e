package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrReservationNotFound = errors.New("reservation not found")

type Repository interface {
	// Reserve atomically increments the counter when it is below limit (limit < 0 means
	// unlimited), rolling a monthly window forward first, and records a pending reservation.
	// Returns *ExceededError when the counter is full.
	Reserve(ctx context.Context, key Key, windowStart time.Time, limit int64) (*Reservation, error)
	// Release gives back a pending reservation. It reports false when the reservation was
	// already committed or released.
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	// Refund marks the committed reservation of an asset refunded and gives its unit back
	// when it was charged to a lifetime counter. It reports false when there was nothing
	// left to refund.
	Refund(ctx context.Context, assetID uuid.UUID) (bool, error)
	// Counter returns nil, nil when nothing was ever reserved.
	Counter(ctx context.Context, key Key) (*Counter, error)
	StaleReservations(ctx context.Context, before time.Time, limit int) (Reservations, error)
}
