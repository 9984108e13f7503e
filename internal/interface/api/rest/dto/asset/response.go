package asset

import (
	"time"

	"github.com/google/uuid"
)

type (
	Asset struct {
		ID          uuid.UUID `json:"id"`
		OwnerID     uuid.UUID `json:"owner_id"`
		ContentType string    `json:"content_type"`
		Digest      string    `json:"digest"`
		Bucket      string    `json:"bucket"`
		StorageKey  string    `json:"storage_key"`
		FileName    string    `json:"file_name"`
		MimeType    string    `json:"mime_type"`
		ByteSize    int64     `json:"byte_size"`
		Width       int       `json:"width"`
		Height      int       `json:"height"`
		RefCount    int       `json:"ref_count"`
		CreatedAt   time.Time `json:"created_at"`
	}

	Session struct {
		SessionID uuid.UUID `json:"session_id"`
	}

	Progress struct {
		Stage   string `json:"stage"`
		Percent int    `json:"percent"`
		Attempt int    `json:"attempt"`
		Message string `json:"message,omitempty"`
	}

	Complete struct {
		Asset     Asset `json:"asset"`
		Duplicate bool  `json:"duplicate"`
	}

	Failed struct {
		Error   string `json:"error"`
		Stage   string `json:"stage"`
		Attempt int    `json:"attempt"`
		Current *int64 `json:"current,omitempty"`
		Limit   *int64 `json:"limit,omitempty"`
	}
)
