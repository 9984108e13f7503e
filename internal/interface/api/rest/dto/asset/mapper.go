package asset

import (
	"errors"

	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/domain/upload"
)

func ToResponseAsset(aDomain asset.Asset) Asset {
	var a = Asset{
		ID:          aDomain.ID,
		OwnerID:     aDomain.OwnerID,
		ContentType: aDomain.ContentType.String(),
		Digest:      aDomain.Digest,
		Bucket:      aDomain.Bucket,
		StorageKey:  aDomain.StorageKey,
		FileName:    aDomain.FileName,
		MimeType:    aDomain.MimeType,
		ByteSize:    aDomain.ByteSize,
		Width:       aDomain.Width,
		Height:      aDomain.Height,
		RefCount:    aDomain.RefCount,
		CreatedAt:   aDomain.CreatedAt,
	}

	return a
}

func ToResponseProgress(u upload.Update) Progress {
	return Progress{
		Stage:   u.Stage.String(),
		Percent: u.Percent,
		Attempt: u.Attempt,
		Message: u.Message,
	}
}

// ToResponseFailed reports the stage the session failed at, not StageFailed.
func ToResponseFailed(err error) Failed {
	f := Failed{Error: err.Error(), Stage: upload.StageFailed.String()}

	var se *upload.StageError
	if errors.As(err, &se) {
		f.Stage = se.Stage.String()
		f.Attempt = se.Attempt
	}
	var qe *quota.ExceededError
	if errors.As(err, &qe) {
		f.Current = &qe.Current
		f.Limit = &qe.Limit
	}

	return f
}
