package quota

import (
	"time"

	"asset-pipeline/internal/domain/quota"
)

func ToResponseUsage(u quota.Usage, now time.Time) Usage {
	return Usage{
		ContentType:  u.ContentType.String(),
		Period:       string(u.Period),
		Current:      u.Current,
		Limit:        u.Limit,
		Percentage:   u.Percentage,
		IsNearLimit:  u.IsNearLimit,
		IsAtLimit:    u.IsAtLimit,
		Unlimited:    u.Unlimited,
		WindowStart:  u.WindowStart,
		ResetsInDays: u.ResetsInDays(now),
	}
}
