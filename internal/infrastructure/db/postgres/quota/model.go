package quota

import (
	"time"

	"github.com/google/uuid"
)

type (
	Counter struct {
		OwnerID     uuid.UUID
		ContentType string
		Period      string
		Current     int64
		WindowStart time.Time
	}

	Reservation struct {
		ID          uuid.UUID
		OwnerID     uuid.UUID
		ContentType string
		Period      string
		WindowStart time.Time
		Status      string
		CreatedAt   time.Time
	}
	Reservations []*Reservation
)
