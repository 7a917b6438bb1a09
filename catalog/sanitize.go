package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameLength = 200

const fallbackFilename = "unnamed"

const filenamePunctuation = "-_.() "

// SanitizeFilename turns an arbitrary catalog-supplied name into a filename
// that is safe to join under the cache directory. The result never contains
// path separators, is at most 200 characters long and is never empty: def is
// used when nothing survives sanitizing.
func SanitizeFilename(name string, def string) string {
	name = norm.NFC.String(strings.ReplaceAll(name, "\x00", ""))

	var b strings.Builder
	count := 0
	for _, r := range name {
		if count >= maxFilenameLength {
			break
		}

		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case isCJK(r), unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case strings.ContainsRune(filenamePunctuation, r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		count++
	}

	if b.Len() > 0 {
		return b.String()
	}

	if def == "" {
		return fallbackFilename
	}

	return SanitizeFilename(def, fallbackFilename)
}

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}
