package asset

import (
	"time"

	"github.com/google/uuid"
)

type Asset struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	ContentType string

	Digest     string
	Bucket     string
	StorageKey string
	FileName   string
	MimeType   string
	ByteSize   int64
	Width      int32
	Height     int32
	RefCount   int32

	CreatedAt time.Time
}
