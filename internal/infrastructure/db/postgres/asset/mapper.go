package asset

import (
	domain "asset-pipeline/internal/domain/asset"
)

func fromDBModel(model *Asset) *domain.Asset {
	var a = &domain.Asset{
		ID:          model.ID,
		OwnerID:     model.OwnerID,
		ContentType: domain.ContentType(model.ContentType),

		Digest:     model.Digest,
		Bucket:     model.Bucket,
		StorageKey: model.StorageKey,
		FileName:   model.FileName,
		MimeType:   model.MimeType,
		ByteSize:   model.ByteSize,
		Width:      int(model.Width),
		Height:     int(model.Height),
		RefCount:   int(model.RefCount),

		CreatedAt: model.CreatedAt,
	}

	return a
}
