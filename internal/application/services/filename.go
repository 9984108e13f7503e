package services

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxDisplayNameLen  = 100
	defaultDisplayName = "image"
)

var stripMarks = transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}), norm.NFC)

// displayName folds the caller-supplied file name to a lowercase ASCII slug and
// swaps its extension for ext. Storage keys never use it.
func displayName(original, ext string) string {
	s := strings.ReplaceAll(strings.TrimSpace(original), "\\", "/")
	s = path.Base(s)
	s = strings.TrimSuffix(s, path.Ext(s))

	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsDigit(r) || unicode.IsLetter(r)):
			b.WriteRune(r)
			dash = false
		case r == '-' || r == '_' || r == '.' || unicode.IsSpace(r):
			if !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}

	base := strings.Trim(b.String(), "-")
	if base == "" || base == "." {
		base = defaultDisplayName
	}
	if len(base)+len(ext) > maxDisplayNameLen {
		base = strings.TrimRight(base[:maxDisplayNameLen-len(ext)], "-")
	}

	return base + ext
}
