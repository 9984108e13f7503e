package quota

import (
	"asset-pipeline/internal/domain/asset"
	domain "asset-pipeline/internal/domain/quota"
)

func fromDBCounter(model *Counter) *domain.Counter {
	return &domain.Counter{
		Key: domain.Key{
			OwnerID:     model.OwnerID,
			ContentType: asset.ContentType(model.ContentType),
			Period:      domain.Period(model.Period),
		},
		Current:     model.Current,
		WindowStart: model.WindowStart,
	}
}

func fromDBReservation(model *Reservation) *domain.Reservation {
	return &domain.Reservation{
		ID: model.ID,
		Key: domain.Key{
			OwnerID:     model.OwnerID,
			ContentType: asset.ContentType(model.ContentType),
			Period:      domain.Period(model.Period),
		},
		WindowStart: model.WindowStart,
		Status:      domain.ReservationStatus(model.Status),
		CreatedAt:   model.CreatedAt,
	}
}

func fromDBReservations(models Reservations) domain.Reservations {
	rs := make(domain.Reservations, len(models))
	for idx, r := range models {
		rs[idx] = fromDBReservation(r)
	}

	return rs
}
