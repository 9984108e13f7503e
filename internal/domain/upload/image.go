package upload

import (
	"strings"

	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
)

const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWEBP = "image/webp"
	MimeSVG  = "image/svg+xml"
	MimeHEIC = "image/heic"
	MimeHEIF = "image/heif"
)

var extensions = map[string]string{
	MimePNG:  ".png",
	MimeJPEG: ".jpg",
	MimeWEBP: ".webp",
	MimeSVG:  ".svg",
	MimeHEIC: ".heic",
	MimeHEIF: ".heif",
}

type (
	Image struct {
		Data     []byte
		MimeType string
		Width    int
		Height   int
	}

	Request struct {
		Owner       quota.Owner
		ContentType asset.ContentType
		FileName    string
		// MimeType is what the caller declared.
		MimeType string
		Data     []byte
	}
)

// NormalizeMIME lowercases, strips parameters and folds aliases (image/jpg).
func NormalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch m {
	case "image/jpg", "image/pjpeg":
		return MimeJPEG
	case "image/heic-sequence":
		return MimeHEIC
	case "image/heif-sequence":
		return MimeHEIF
	}
	return m
}

func Allowed(m string) bool {
	_, ok := extensions[NormalizeMIME(m)]
	return ok
}

func IsHEIC(m string) bool {
	m = NormalizeMIME(m)
	return m == MimeHEIC || m == MimeHEIF
}

func Extension(m string) string {
	if ext, ok := extensions[NormalizeMIME(m)]; ok {
		return ext
	}
	return ".bin"
}

// SameFamily treats HEIC and HEIF as one family since sniffers disagree on the brand.
func SameFamily(declared, sniffed string) bool {
	declared, sniffed = NormalizeMIME(declared), NormalizeMIME(sniffed)
	if declared == sniffed {
		return true
	}
	return IsHEIC(declared) && IsHEIC(sniffed)
}
