package access

import (
	"strings"

	"asset-pipeline/internal/domain/access"
)

// ToDomainRequest fills an empty bucket: public requests read from publicBucket,
// everything else from defaultBucket.
func ToDomainRequest(r Request, defaultBucket, publicBucket string) access.Request {
	bucket := strings.TrimSpace(r.Bucket)
	switch {
	case bucket != "":
	case r.Public:
		bucket = publicBucket
	default:
		bucket = defaultBucket
	}
	return access.Request{
		StorageKey: strings.TrimSpace(r.StorageKey),
		Bucket:     bucket,
		Public:     r.Public,
	}
}
