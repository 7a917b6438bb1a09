package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

var (
	allowedUrlSchemes = []string{"http", "https"}

	ErrEmptyThumbnail = errors.New("thumbnail is empty")
	ErrInvalidURL     = errors.New("invalid image url")
)

// ResolveURL builds the absolute URL of a thumbnail. Absolute http(s)
// thumbnails are returned untouched. Anything else is joined to base with
// every path segment escaped on its own, so separators survive and non-ASCII
// names or stray '%' become valid URL bytes.
func ResolveURL(thumbnail string, base string) (string, error) {
	thumbnail = strings.TrimSpace(thumbnail)
	if thumbnail == "" {
		return "", ErrEmptyThumbnail
	}

	if IsAllowedURL(thumbnail) {
		return thumbnail, nil
	}

	if !IsAllowedURL(base) {
		return "", fmt.Errorf("%w: base %q has no http(s) host", ErrInvalidURL, base)
	}

	segments := strings.Split(strings.TrimLeft(thumbnail, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}

	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/"), nil
}

// IsAllowedURL reports whether text is an absolute http(s) URL with a host.
func IsAllowedURL(text string) bool {
	u, err := url.Parse(text)
	if err != nil {
		return false
	}

	return slices.Contains(allowedUrlSchemes, strings.ToLower(u.Scheme)) && u.Host != ""
}
