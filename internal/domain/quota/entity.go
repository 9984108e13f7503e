package quota

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"asset-pipeline/internal/domain/asset"
)

type (
	Period            string
	Role              string
	ReservationStatus string

	Owner struct {
		ID   asset.OwnerID
		Role Role
	}

	Key struct {
		OwnerID     asset.OwnerID
		ContentType asset.ContentType
		Period      Period
	}

	Counter struct {
		Key
		Current     int64
		WindowStart time.Time
	}

	Limit struct {
		Period Period
		Max    int64
	}

	// Policy maps an account role to the limit of each content type.
	Policy map[Role]map[asset.ContentType]Limit

	Reservation struct {
		ID          uuid.UUID
		Key         Key
		WindowStart time.Time
		Status      ReservationStatus
		AssetID     *asset.ID
		CreatedAt   time.Time
	}
	Reservations []*Reservation

	Usage struct {
		ContentType asset.ContentType
		Period      Period
		Current     int64
		Limit       int64
		Percentage  float64
		IsNearLimit bool
		IsAtLimit   bool
		Unlimited   bool
		WindowStart *time.Time
		ResetsAt    *time.Time
	}
)

const (
	Lifetime Period = "lifetime"
	Monthly  Period = "monthly"

	RoleFree       Role = "free"
	RoleSubscriber Role = "subscriber"
	RoleAdmin      Role = "admin"

	StatusPending   ReservationStatus = "pending"
	StatusCommitted ReservationStatus = "committed"
	StatusReleased  ReservationStatus = "released"
	StatusRefunded  ReservationStatus = "refunded"

	Unlimited int64 = -1

	NearLimitRatio = 0.8
)

var ErrQuotaExceeded = errors.New("quota exceeded")

// ExceededError carries the counter state so callers can render the deficit.
type ExceededError struct {
	ContentType asset.ContentType
	Current     int64
	Limit       int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d/%d", e.ContentType, e.Current, e.Limit)
}

func (e *ExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

func DefaultPolicy() Policy {
	return Policy{
		RoleFree: {
			asset.TaskImage:   {Period: Monthly, Max: 5},
			asset.RewardImage: {Period: Monthly, Max: 5},
			asset.Avatar:      {Period: Lifetime, Max: 3},
		},
		RoleSubscriber: {
			asset.TaskImage:   {Period: Lifetime, Max: 500},
			asset.RewardImage: {Period: Lifetime, Max: 500},
			asset.Avatar:      {Period: Lifetime, Max: 10},
		},
		RoleAdmin: {
			asset.TaskImage:   {Period: Lifetime, Max: Unlimited},
			asset.RewardImage: {Period: Lifetime, Max: Unlimited},
			asset.Avatar:      {Period: Lifetime, Max: Unlimited},
		},
	}
}

// LimitFor falls back to the free tier for unknown roles.
func (p Policy) LimitFor(role Role, ct asset.ContentType) Limit {
	if limits, ok := p[role]; ok {
		if l, ok := limits[ct]; ok {
			return l
		}
	}
	if l, ok := p[RoleFree][ct]; ok {
		return l
	}
	return Limit{Period: Lifetime, Max: 0}
}

func (l Limit) Unlimited() bool { return l.Max < 0 }

// WindowStart returns the first instant of the calendar month (UTC) for monthly
// counters and the zero time for lifetime ones.
func WindowStart(p Period, now time.Time) time.Time {
	if p != Monthly {
		return time.Time{}
	}
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextWindow returns the instant the monthly window starting at start rolls over.
func NextWindow(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// Effective applies a lazy rollover without mutating the counter.
func (c *Counter) Effective(now time.Time) int64 {
	if c == nil {
		return 0
	}
	if c.Period == Monthly && c.WindowStart.Before(WindowStart(Monthly, now)) {
		return 0
	}
	return c.Current
}

func NewUsage(ct asset.ContentType, l Limit, current int64, now time.Time) Usage {
	u := Usage{
		ContentType: ct,
		Period:      l.Period,
		Current:     current,
		Limit:       l.Max,
		Unlimited:   l.Unlimited(),
	}
	if !u.Unlimited {
		if l.Max > 0 {
			u.Percentage = math.Round(float64(current)/float64(l.Max)*1000) / 10
		} else {
			u.Percentage = 100
		}
		u.IsAtLimit = current >= l.Max
		u.IsNearLimit = float64(current) >= float64(l.Max)*NearLimitRatio
	}
	if l.Period == Monthly {
		ws := WindowStart(Monthly, now)
		next := NextWindow(ws)
		u.WindowStart = &ws
		u.ResetsAt = &next
	}

	return u
}

// ResetsInDays rounds up, so a reset later today reports 1.
func (u Usage) ResetsInDays(now time.Time) int {
	if u.ResetsAt == nil {
		return 0
	}
	d := u.ResetsAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}
