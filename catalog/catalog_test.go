package catalog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://pighub.top/"

func TestSanitizeFilename_NeverProducesSeparators(t *testing.T) {
	inputs := []string{
		"",
		"\x00",
		"../../etc/passwd",
		`..\..\windows\system32`,
		"猪/猪\\猪",
		"a\x00b",
		strings.Repeat("长", 500),
		strings.Repeat("/", 300),
		"emoji 🐷 pig",
		"tab\tnew\nline",
	}

	for _, input := range inputs {
		got := SanitizeFilename(input, "default")

		assert.NotContains(t, got, "/", "input %q", input)
		assert.NotContains(t, got, "\\", "input %q", input)
		assert.NotEmpty(t, got, "input %q", input)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), 200, "input %q", input)
	}
}

func TestSanitizeFilename_KeepsAllowedCharacters(t *testing.T) {
	assert.Equal(t, "小猪 (1)-a_b.jpg", SanitizeFilename("小猪 (1)-a_b.jpg", "x"))
	assert.Equal(t, "a_b_c", SanitizeFilename("a/b\\c", "x"))
	assert.Equal(t, "ab", SanitizeFilename("a\x00b", "x"))
	assert.Equal(t, "pig_", SanitizeFilename("pig🐷", "x"))
	assert.Equal(t, "a_b", SanitizeFilename("a:b", "x"))
}

func TestSanitizeFilename_Defaults(t *testing.T) {
	assert.Equal(t, "fallback", SanitizeFilename("", "fallback"))
	assert.Equal(t, "fallback", SanitizeFilename("\x00\x00", "fallback"))
	assert.Equal(t, "un_safe", SanitizeFilename("", "un/safe"))
	assert.Equal(t, "unnamed", SanitizeFilename("", ""))
}

func TestSanitizeFilename_NormalizesComposition(t *testing.T) {
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	assert.Equal(t, SanitizeFilename(composed, "x"), SanitizeFilename(decomposed, "x"))
}

func TestResolveURL_EncodesSegments(t *testing.T) {
	got, err := ResolveURL("a/测试.jpg", testBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "https://pighub.top/a/%E6%B5%8B%E8%AF%95.jpg", got)

	got, err = ResolveURL("/images/pig one.png", testBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "https://pighub.top/images/pig%20one.png", got)
}

func TestResolveURL_AbsoluteIsUsedVerbatim(t *testing.T) {
	for _, thumbnail := range []string{
		"http://cdn.example.com/p/猪.gif",
		"https://cdn.example.com/p/%E7%8C%AA.gif",
		"https://cdn.example.com/a%2Fb.jpg",
		"https://user:pw@cdn.example.com/x.jpg",
		"https://cdn.example.com/x.jpg?size=large#top",
	} {
		got, err := ResolveURL(thumbnail, testBaseURL)
		require.NoError(t, err, thumbnail)
		assert.Equal(t, thumbnail, got)
	}
}

func TestResolveURL_EscapesPercentInRelativePath(t *testing.T) {
	got, err := ResolveURL("a/100%.jpg", testBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "https://pighub.top/a/100%25.jpg", got)
}

func TestResolveURL_Failures(t *testing.T) {
	_, err := ResolveURL("", testBaseURL)
	assert.ErrorIs(t, err, ErrEmptyThumbnail)

	_, err = ResolveURL("   ", testBaseURL)
	assert.ErrorIs(t, err, ErrEmptyThumbnail)

	_, err = ResolveURL("a.jpg", "ftp://files.example.com/")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestBuildEntries(t *testing.T) {
	doc := mustDocument(t, `{"images": [
		{"id": 1, "title": "t", "thumbnail": "a/测试.jpg"},
		{"id": "2", "title": "no thumb"},
		{"id": 3, "thumbnail": "/b/pig.PNG"},
		{"id": 4, "title": "named", "thumbnail": "c.webp", "filename": "../evil"},
		{"id": 5, "title": "x/y", "thumbnail": "d"},
		"not an object",
		{"id": 6, "title": "odd", "thumbnail": "%zz"}
	]}`)

	entries := BuildEntries(doc, testBaseURL)
	require.Len(t, entries, 5)

	assert.Equal(t, Entry{
		ID:        "1",
		Title:     "t",
		Thumbnail: "a/测试.jpg",
		Filename:  "t.jpg",
		FullURL:   "https://pighub.top/a/%E6%B5%8B%E8%AF%95.jpg",
	}, entries[0])

	assert.Equal(t, DefaultTitle, entries[1].Title)
	assert.Equal(t, DefaultTitle+".png", entries[1].Filename)

	assert.Equal(t, ".._evil.jpg", entries[2].Filename)
	assert.Equal(t, "x_y.jpg", entries[3].Filename)
	assert.Equal(t, "https://pighub.top/%25zz", entries[4].FullURL)

	for _, e := range entries {
		assert.True(t, IsImageFile(e.Filename), e.Filename)
	}
}

func TestBuildEntries_LongTitlesKeepExtension(t *testing.T) {
	doc := mustDocument(t, `{"images": [
		{"id": 1, "title": "`+strings.Repeat("p", 230)+`", "thumbnail": "a/1.png"},
		{"id": 2, "title": "`+strings.Repeat("猪", 250)+`", "thumbnail": "a/2.gif"},
		{"id": 3, "title": "t", "thumbnail": "a/3.jpg", "filename": "`+strings.Repeat("f", 300)+`.JPEG"}
	]}`)

	entries := BuildEntries(doc, testBaseURL)
	require.Len(t, entries, 3)

	for _, e := range entries {
		assert.True(t, IsImageFile(e.Filename), e.Filename)
		assert.LessOrEqual(t, utf8.RuneCountInString(e.Filename), 200, e.Filename)
		assert.LessOrEqual(t, len(e.Filename), 255, e.Filename)
		assert.Equal(t, e.Filename, SanitizeFilename(e.Filename, "x"), "stored names are already sanitized")
	}

	assert.Equal(t, strings.Repeat("p", 196)+".png", entries[0].Filename)
	assert.Equal(t, strings.Repeat("猪", 83)+".gif", entries[1].Filename)
	assert.Equal(t, strings.Repeat("f", 195)+".JPEG", entries[2].Filename)
}

func TestStore_LoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "list.json"), testBaseURL)

	entries, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, store.Entries())
}

func TestStore_LoadEmptyOrMissingImages(t *testing.T) {
	for _, content := range []string{`{"images": []}`, `{}`, `{"images": null}`} {
		path := writeFile(t, content)
		store := NewStore(path, testBaseURL)

		entries, err := store.Load()
		require.NoError(t, err, content)
		assert.Empty(t, entries, content)
	}
}

func TestStore_LoadMalformedKeepsEmptyCatalog(t *testing.T) {
	path := writeFile(t, `{"images": [`)
	store := NewStore(path, testBaseURL)

	entries, err := store.Load()
	assert.ErrorIs(t, err, ErrCatalogParse)
	assert.Empty(t, entries)
	assert.Empty(t, store.Entries())
}

func TestStore_ReloadSwapsSnapshot(t *testing.T) {
	path := writeFile(t, `{"images": [{"id": 1, "thumbnail": "a.jpg"}]}`)
	store := NewStore(path, testBaseURL)

	_, err := store.Load()
	require.NoError(t, err)
	before := store.Entries()
	require.Len(t, before, 1)

	require.NoError(t, store.WriteAtomic(mustDocument(t, `{"images": [{"id": 1, "thumbnail": "a.jpg"}, {"id": 2, "thumbnail": "b.jpg"}]}`)))
	_, err = store.Load()
	require.NoError(t, err)

	assert.Len(t, before, 1, "a snapshot taken before the reload is unaffected")
	assert.Len(t, store.Entries(), 2)
}

func TestStore_WriteAtomicProducesValidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "list.json")
	store := NewStore(path, testBaseURL)

	doc := mustDocument(t, `{"images": [{"id": 7, "title": "猪", "thumbnail": "p.jpg", "extra": {"k": true}}]}`)
	require.NoError(t, store.WriteAtomic(doc))

	read, err := store.ReadDocument()
	require.NoError(t, err)
	require.Len(t, read.Images, 1)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(read.Images[0], &fields))
	assert.Equal(t, map[string]any{"k": true}, fields["extra"])

	assertNoTempFiles(t, filepath.Dir(path))
}

func TestStore_WriteAtomicFailureKeepsOriginal(t *testing.T) {
	path := writeFile(t, `{"images": [{"id": 1, "thumbnail": "a.jpg"}]}`)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	renameFile = func(string, string) error { return errors.New("disk unplugged") }
	t.Cleanup(func() { renameFile = os.Rename })

	store := NewStore(path, testBaseURL)
	err = store.WriteAtomic(mustDocument(t, `{"images": []}`))
	assert.ErrorIs(t, err, ErrCatalogWrite)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, after)
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestRawEntry_IdentityKey(t *testing.T) {
	raws := mustDocument(t, `{"images": [{"id": 1}, {"id": "1"}, {"id": null}, {}, {"id": { "a" : 1 }}]}`).DecodeEntries(nil)
	require.Len(t, raws, 5)

	key, ok := raws[0].IdentityKey()
	assert.True(t, ok)
	assert.Equal(t, "1", key)

	key, ok = raws[1].IdentityKey()
	assert.True(t, ok)
	assert.Equal(t, `"1"`, key)
	assert.Equal(t, "1", raws[1].DisplayID())

	_, ok = raws[2].IdentityKey()
	assert.False(t, ok)
	_, ok = raws[3].IdentityKey()
	assert.False(t, ok)

	key, _ = raws[4].IdentityKey()
	assert.Equal(t, `{"a":1}`, key)
}

func mustDocument(t *testing.T, content string) *Document {
	t.Helper()

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(content), &doc))

	return &doc
}

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "list.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, f := range files {
		assert.False(t, strings.HasSuffix(f.Name(), ".tmp"), "leftover temp file %s", f.Name())
	}
}
