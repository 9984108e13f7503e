package quota

import "time"

type Usage struct {
	ContentType  string     `json:"content_type"`
	Period       string     `json:"period"`
	Current      int64      `json:"current"`
	Limit        int64      `json:"limit"`
	Percentage   float64    `json:"percentage"`
	IsNearLimit  bool       `json:"is_near_limit"`
	IsAtLimit    bool       `json:"is_at_limit"`
	Unlimited    bool       `json:"unlimited"`
	WindowStart  *time.Time `json:"window_start,omitempty"`
	ResetsInDays int        `json:"resets_in_days"`
}
