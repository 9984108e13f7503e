package ports

import (
	"context"

	"github.com/google/uuid"

	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/upload"
)

type UploadService interface {
	Submit(ctx context.Context, req upload.Request) (*upload.Session, error)
	Session(owner asset.OwnerID, id uuid.UUID) (*upload.Session, error)
	Cancel(owner asset.OwnerID, id uuid.UUID) error
	// Dismiss forgets a finished session.
	Dismiss(owner asset.OwnerID, id uuid.UUID) error
}
