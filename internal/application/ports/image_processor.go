package ports

import (
	"context"

	"asset-pipeline/internal/domain/upload"
)

type ImageProcessor interface {
	// Sniff returns the MIME type detected from magic bytes.
	Sniff(data []byte) string
	// ConvertHEIC decodes HEIC/HEIF and re-encodes it as JPEG.
	ConvertHEIC(ctx context.Context, img *upload.Image) (*upload.Image, error)
	Compress(ctx context.Context, img *upload.Image) (*upload.Image, error)
}
