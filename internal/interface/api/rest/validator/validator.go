package validator

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/interface/api/rest/dto/access"
)

const maxStorageKeyLen = 1024

func IsUUID(s string) (bool, uuid.UUID) {
	id, err := uuid.Parse(s)
	return err == nil, id
}

func ContentType(s string) (asset.ContentType, bool) {
	ct, err := asset.ParseContentType(s)
	return ct, err == nil
}

func ValidateAccess(r access.Request) map[string]string {
	errs := make(map[string]string)

	key := strings.TrimSpace(r.StorageKey)
	switch {
	case key == "":
		errs["storage_key"] = "storage_key is required"
	case utf8.RuneCountInString(key) > maxStorageKeyLen:
		errs["storage_key"] = "storage_key is too long"
	case strings.Contains(key, ".."):
		errs["storage_key"] = "storage_key must not contain '..'"
	}

	if b := strings.TrimSpace(r.Bucket); b != "" && strings.ContainsAny(b, "/ ") {
		errs["bucket"] = "invalid bucket name"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
