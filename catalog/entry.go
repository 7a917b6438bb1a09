// Package catalog holds the pig image catalog: the on-disk JSON document, the
// entries built from it and the helpers turning catalog-supplied names and
// paths into safe local filenames and absolute URLs.
package catalog

import (
	"bytes"
	"encoding/json"
	"path"
	"strings"
	"unicode/utf8"
)

const DefaultTitle = "随机猪图"

const defaultFilenameBase = "pig"

// maxFilenameBytes is the usual NAME_MAX of local filesystems.
const maxFilenameBytes = 255

// imageExtensions are the only suffixes treated as images, both for cached
// files and for fresh downloads.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

// IsImageFile reports whether name ends with a recognized image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// Document is the catalog file as stored on disk and served by the remote API.
// Images are kept raw so fields this bot does not know about survive a rewrite.
type Document struct {
	Images []json.RawMessage `json:"images"`
}

// RawEntry is the subset of an image record the bot reads.
type RawEntry struct {
	ID        json.RawMessage `json:"id,omitempty"`
	Title     string          `json:"title,omitempty"`
	Thumbnail string          `json:"thumbnail,omitempty"`
	Filename  string          `json:"filename,omitempty"`
}

// IdentityKey returns a comparable form of the entry id. Missing and null ids
// yield ok == false.
func (r RawEntry) IdentityKey() (string, bool) {
	trimmed := bytes.TrimSpace(r.ID)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}

	var compacted bytes.Buffer
	if err := json.Compact(&compacted, trimmed); err != nil {
		return string(trimmed), true
	}

	return compacted.String(), true
}

// DisplayID renders the id for logs: strings unquoted, anything else as JSON.
func (r RawEntry) DisplayID() string {
	key, ok := r.IdentityKey()
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal([]byte(key), &s); err == nil {
		return s
	}

	return key
}

// Entry is one usable catalog image. Entries are never mutated after a load.
type Entry struct {
	ID        string
	Title     string
	Thumbnail string
	Filename  string
	FullURL   string
}

// DecodeEntries parses the raw image records of a document. Records that are
// not JSON objects are reported through onError and skipped.
func (d *Document) DecodeEntries(onError func(index int, err error)) []RawEntry {
	if d == nil {
		return nil
	}

	result := make([]RawEntry, 0, len(d.Images))
	for i, raw := range d.Images {
		var entry RawEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			if onError != nil {
				onError(i, err)
			}
			continue
		}
		result = append(result, entry)
	}

	return result
}

// deriveFilename picks the local cache name for an entry. An explicit filename
// wins; otherwise the title is combined with the thumbnail extension. The base
// is shortened so the extension always survives the length limits.
func deriveFilename(raw RawEntry, title string) string {
	base, ext := title, strings.ToLower(path.Ext(raw.Thumbnail))
	if raw.Filename != "" {
		base, ext = raw.Filename, path.Ext(raw.Filename)
		if imageExtensions[strings.ToLower(ext)] {
			base = strings.TrimSuffix(base, ext)
		}
	}

	if !imageExtensions[strings.ToLower(ext)] {
		ext = ".jpg"
	}

	return fitFilename(SanitizeFilename(base, defaultFilenameBase), ext)
}

// fitFilename cuts base at a rune boundary so that base+ext is at most
// maxFilenameLength runes and maxFilenameBytes bytes long.
func fitFilename(base, ext string) string {
	maxRunes := maxFilenameLength - utf8.RuneCountInString(ext)
	maxBytes := maxFilenameBytes - len(ext)

	runes := 0
	for i, r := range base {
		if runes >= maxRunes || i+utf8.RuneLen(r) > maxBytes {
			return base[:i] + ext
		}
		runes++
	}

	return base + ext
}
