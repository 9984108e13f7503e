package asset

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	ID          = uuid.UUID
	OwnerID     = uuid.UUID
	ContentType string

	Asset struct {
		ID          ID
		OwnerID     OwnerID
		ContentType ContentType

		Digest     string
		Bucket     string
		StorageKey string
		FileName   string
		MimeType   string
		ByteSize   int64
		Width      int
		Height     int
		RefCount   int

		CreatedAt time.Time
	}
	Assets []*Asset

	// Deletion describes what a Delete call removed.
	Deletion struct {
		Asset *Asset
		// RowRemoved is false while other references still point at the row.
		RowRemoved bool
		// ObjectOrphaned is true when no remaining row of the owner uses the storage key.
		ObjectOrphaned bool
	}
)

const (
	TaskImage   ContentType = "task_image"
	RewardImage ContentType = "reward_image"
	Avatar      ContentType = "avatar"
)

var ErrUnknownContentType = errors.New("unknown content type")

func ParseContentType(s string) (ContentType, error) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if !ct.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownContentType, s)
	}
	return ct, nil
}

func (c ContentType) Valid() bool {
	switch c {
	case TaskImage, RewardImage, Avatar:
		return true
	}
	return false
}

// Deduplicated reports whether (owner, digest) is unique for this type.
func (c ContentType) Deduplicated() bool { return c != Avatar }

func (c ContentType) String() string { return string(c) }

// StorageKey: "<owner>/<content_type>/<digest><ext>"
func StorageKey(owner OwnerID, ct ContentType, digest, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s/%s/%s%s", owner.String(), ct, digest, ext)
}
