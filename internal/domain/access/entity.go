package access

import (
	"errors"
	"strings"
	"time"
)

var ErrImageUnavailable = errors.New("image unavailable")

type (
	Request struct {
		StorageKey string
		Bucket     string
		Public     bool
	}

	SignedURL struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expires_at"`
	}
)

func CacheKey(bucket, storageKey string) string {
	return bucket + "/" + strings.TrimPrefix(storageKey, "/")
}

func (u SignedURL) ValidAt(now time.Time) bool {
	return u.URL != "" && now.Before(u.ExpiresAt)
}
