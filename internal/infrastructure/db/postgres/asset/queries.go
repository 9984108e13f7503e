package asset

const assetColumns = `id, owner_id, content_type, digest, bucket, storage_key, file_name, mime_type, byte_size, width, height, ref_count, created_at`

const (
	SelectAssetByDigest = `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE owner_id = $1 AND digest = $2 AND content_type <> 'avatar'
	`
	SelectAssetByID = `
		SELECT ` + assetColumns + `
		FROM assets
		WHERE owner_id = $1 AND id = $2
	`
	InsertAsset = `
		INSERT INTO assets (id, owner_id, content_type, digest, bucket, storage_key, file_name, mime_type, byte_size, width, height, ref_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		RETURNING ` + assetColumns + `
	`
	CommitReservation = `
		UPDATE quota_reservations
		SET status = 'committed', asset_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	LinkAsset = `
		UPDATE assets
		SET ref_count = ref_count + 1
		WHERE id = $1
		RETURNING ` + assetColumns + `
	`
	UnlinkAsset = `
		UPDATE assets
		SET ref_count = ref_count - 1
		WHERE owner_id = $1 AND id = $2
		RETURNING ` + assetColumns + `
	`
	DeleteAsset = `
		DELETE FROM assets
		WHERE id = $1
	`
	StorageKeyInUseByOwner = `
		SELECT EXISTS (SELECT 1 FROM assets WHERE owner_id = $1 AND bucket = $2 AND storage_key = $3)
	`
	StorageKeyInUse = `
		SELECT EXISTS (SELECT 1 FROM assets WHERE bucket = $1 AND storage_key = $2)
	`
)
