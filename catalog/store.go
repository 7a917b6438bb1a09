package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
)

// renameFile is swapped in tests to simulate a failure after the temp file was written.
var renameFile = os.Rename

var (
	ErrCatalogRead  = errors.New("cannot read catalog file")
	ErrCatalogParse = errors.New("catalog file is not valid JSON")
	ErrCatalogWrite = errors.New("cannot write catalog file")
)

// Store owns the catalog file. Readers get an immutable snapshot of the entry
// list; a reload swaps the whole list in one atomic store.
type Store struct {
	path    string
	baseURL string

	entries atomic.Pointer[[]Entry]
}

func NewStore(path string, baseURL string) *Store {
	s := &Store{
		path:    path,
		baseURL: baseURL,
	}
	empty := make([]Entry, 0)
	s.entries.Store(&empty)

	return s
}

func (s *Store) Path() string {
	return s.path
}

// Entries returns the current snapshot. Callers must not modify it.
func (s *Store) Entries() []Entry {
	return *s.entries.Load()
}

// Load reads the catalog file and replaces the in-memory entries. A missing
// file gives an empty catalog without an error; a malformed one gives an empty
// catalog and the parse error.
func (s *Store) Load() ([]Entry, error) {
	doc, err := s.ReadDocument()
	if err != nil {
		empty := make([]Entry, 0)
		s.entries.Store(&empty)

		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("catalog: Catalog file not found, starting with an empty catalog", "path", s.path)
			return empty, nil
		}

		slog.Error("catalog: Cannot load catalog", "path", s.path, "error", err)
		return empty, err
	}

	entries := BuildEntries(doc, s.baseURL)
	s.entries.Store(&entries)

	slog.Info("catalog: Catalog loaded", "path", s.path, "entries", len(entries), "raw_entries", len(doc.Images))

	return entries, nil
}

// ReadDocument reads and parses the catalog file without touching the snapshot.
func (s *Store) ReadDocument() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrCatalogRead, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrCatalogParse, err)
	}

	return &doc, nil
}

// WriteAtomic replaces the catalog file with doc. The document goes to a
// uniquely named temp file in the same directory which is then renamed over
// the catalog, so readers see either the old or the new file in full. The temp
// file is removed on any failure.
func (s *Store) WriteAtomic(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrCatalogWrite)
	}
	if doc.Images == nil {
		doc = &Document{Images: []json.RawMessage{}}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Join(ErrCatalogWrite, err)
	}

	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Join(ErrCatalogWrite, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Join(ErrCatalogWrite, err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return errors.Join(ErrCatalogWrite, err)
	}
	if err = tmp.Sync(); err != nil {
		return errors.Join(ErrCatalogWrite, err)
	}
	if err = tmp.Close(); err != nil {
		return errors.Join(ErrCatalogWrite, err)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return errors.Join(ErrCatalogWrite, err)
	}
	if err = renameFile(tmpPath, path); err != nil {
		return errors.Join(ErrCatalogWrite, err)
	}

	return nil
}

// BuildEntries turns raw records into usable entries, dropping the ones
// without a thumbnail or with a thumbnail that does not form a valid URL.
func BuildEntries(doc *Document, baseURL string) []Entry {
	raws := doc.DecodeEntries(func(index int, err error) {
		slog.Warn("catalog: Skipping malformed image record", "index", index, "error", err)
	})

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		title := raw.Title
		if title == "" {
			title = DefaultTitle
		}

		if raw.Thumbnail == "" {
			slog.Warn("catalog: Skipping image without thumbnail", "title", title, "id", raw.DisplayID())
			continue
		}

		fullURL, err := ResolveURL(raw.Thumbnail, baseURL)
		if err != nil {
			slog.Warn("catalog: Skipping image with bad URL", "title", title, "thumbnail", raw.Thumbnail, "error", err)
			continue
		}

		entries = append(entries, Entry{
			ID:        raw.DisplayID(),
			Title:     title,
			Thumbnail: raw.Thumbnail,
			Filename:  deriveFilename(raw, title),
			FullURL:   fullURL,
		})
	}

	return entries
}
