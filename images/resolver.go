// Package images turns catalog entries into image files on disk: a local
// cache lookup first, then a retried download with a system-wide cap on
// concurrent transfers.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"telegram-pig-bot/catalog"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrentDownloads = 3

var (
	ErrInvalidURL  = errors.New("image url is not an absolute http(s) url")
	ErrBadFileType = errors.New("downloaded file is not a recognized image")
	ErrFetchFailed = errors.New("image download failed")
	ErrUnsafePath  = errors.New("cache path escapes the cache directory")
	ErrCacheOff    = errors.New("local cache is disabled")
	ErrNoImage     = errors.New("no image available")
	ErrPermitWait  = errors.New("cannot acquire download permit")
)

// Downloader fetches url into a new temporary file and returns its path.
type Downloader interface {
	DownloadToTemp(ctx context.Context, url string) (string, error)
}

// Result is a resolved image ready to be sent.
type Result struct {
	Path  string
	Entry catalog.Entry
	// FromCache is set when Path was already cached before the request.
	FromCache bool
	// Temporary is set when Path is a download the caller should Release.
	Temporary bool

	writeBack <-chan struct{}
}

// Options configures a Resolver.
type Options struct {
	// CacheDir enables local caching when not empty.
	CacheDir               string
	MaxAttempts            int
	MaxConcurrentDownloads int
	// Backoff returns the pause after the given failed attempt (0-based).
	// Defaults to 2^attempt seconds plus up to a second of jitter.
	Backoff func(attempt int) time.Duration
}

type Resolver struct {
	downloader  Downloader
	permits     *semaphore.Weighted
	maxAttempts int
	backoff     func(attempt int) time.Duration

	cacheDir      string
	cacheDirOnce  sync.Once
	cacheDisabled bool
}

func NewResolver(downloader Downloader, opts Options) *Resolver {
	maxConcurrent := opts.MaxConcurrentDownloads
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentDownloads
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	backoff := opts.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff
	}

	cacheDir := opts.CacheDir
	if cacheDir != "" {
		if abs, err := filepath.Abs(cacheDir); err == nil {
			cacheDir = abs
		}
	}

	return &Resolver{
		downloader:  downloader,
		permits:     semaphore.NewWeighted(int64(maxConcurrent)),
		maxAttempts: maxAttempts,
		backoff:     backoff,
		cacheDir:    cacheDir,
	}
}

// ExponentialBackoff waits 2^attempt seconds plus random jitter below a second.
func ExponentialBackoff(attempt int) time.Duration {
	base := time.Duration(1<<min(attempt, 6)) * time.Second
	jitter := time.Duration(rand.Int64N(int64(time.Second)))

	return base + jitter
}

// CacheEnabled reports whether local caching is configured and usable.
func (r *Resolver) CacheEnabled() bool {
	return r.ensureCacheDir()
}

// Resolve returns a file for entry. With preferLocal the cache is consulted
// (and filled) first; otherwise, or when the cache path is unusable, the image
// is downloaded and copied into the cache in the background.
func (r *Resolver) Resolve(ctx context.Context, entry catalog.Entry, preferLocal bool) (Result, error) {
	if preferLocal {
		path, hit, err := r.ResolveLocal(ctx, entry)
		if err == nil {
			return Result{
				Path:      path,
				Entry:     entry,
				FromCache: hit,
				Temporary: !r.isInsideCache(path),
			}, nil
		}

		if !errors.Is(err, ErrUnsafePath) && !errors.Is(err, ErrCacheOff) {
			return Result{Entry: entry}, errors.Join(ErrNoImage, err)
		}
	}

	path, err := r.FetchWithRetries(ctx, entry.FullURL, r.maxAttempts)
	if err != nil {
		return Result{Entry: entry}, errors.Join(ErrNoImage, err)
	}

	result := Result{
		Path:      path,
		Entry:     entry,
		Temporary: true,
	}

	if r.ensureCacheDir() {
		done := make(chan struct{})
		result.writeBack = done

		go func() {
			defer close(done)

			if _, err := r.storeInCache(path, entry); err != nil {
				slog.Debug("images: Background cache write failed", "title", entry.Title, "error", err)
			}
		}()
	}

	return result, nil
}

// ResolveLocal returns the cached file of entry, downloading and caching it
// when missing. hit is true only when the file was already cached. When the
// copy into the cache fails the downloaded temp file is returned instead.
func (r *Resolver) ResolveLocal(ctx context.Context, entry catalog.Entry) (path string, hit bool, err error) {
	if !r.ensureCacheDir() {
		return "", false, ErrCacheOff
	}

	cachePath, err := r.cachePath(entry)
	if err != nil {
		slog.Warn("images: Rejected cache path", "title", entry.Title, "filename", entry.Filename, "error", err)
		return "", false, err
	}

	if info, err := os.Stat(cachePath); err == nil && info.Mode().IsRegular() {
		slog.Debug("images: Cache hit", "title", entry.Title, "path", cachePath)
		return cachePath, true, nil
	}

	tempPath, err := r.FetchWithRetries(ctx, entry.FullURL, r.maxAttempts)
	if err != nil {
		return "", false, err
	}

	stored, err := r.storeInCache(tempPath, entry)
	if err != nil {
		slog.Warn("images: Cannot copy download into cache, using temp file", "title", entry.Title, "error", err)
		return tempPath, false, nil
	}

	_ = os.Remove(tempPath)

	return stored, false, nil
}

// FetchWithRetries downloads url, retrying every failed attempt with backoff,
// non-200 responses included. Each attempt holds one download permit for its
// duration.
func (r *Resolver) FetchWithRetries(ctx context.Context, url string, maxAttempts int) (string, error) {
	if !catalog.IsAllowedURL(url) {
		slog.Error("images: Refusing to fetch invalid url", "url", url)
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}

	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		slog.Info("images: Downloading", "attempt", attempt+1, "max_attempts", maxAttempts, "url", url)

		path, err := r.attempt(ctx, url)
		if err == nil {
			return path, nil
		}
		lastErr = err

		slog.Warn("images: Download attempt failed", "attempt", attempt+1, "url", url, "error", err)

		if ctx.Err() != nil || errors.Is(err, ErrPermitWait) {
			break
		}

		if attempt < maxAttempts-1 {
			if err := sleepContext(ctx, r.backoff(attempt)); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
	}

	slog.Error("images: Giving up on download", "url", url, "attempts", maxAttempts, "error", lastErr)
	sentry.CaptureException(lastErr)

	return "", errors.Join(ErrFetchFailed, lastErr)
}

// attempt performs one download. Files without an image extension are
// deleted and reported as ErrBadFileType.
func (r *Resolver) attempt(ctx context.Context, url string) (string, error) {
	if err := r.permits.Acquire(ctx, 1); err != nil {
		return "", errors.Join(ErrPermitWait, err)
	}
	defer r.permits.Release(1)

	path, err := r.downloader.DownloadToTemp(ctx, url)
	if err != nil {
		return "", err
	}

	if !catalog.IsImageFile(path) {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: %s", ErrBadFileType, filepath.Base(path))
	}

	return path, nil
}

// Release removes the temporary download of result once any background cache
// write that reads it has finished. Cached files are left alone.
func (r *Resolver) Release(result Result) {
	if !result.Temporary || result.Path == "" {
		return
	}

	remove := func() {
		if err := os.Remove(result.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Debug("images: Cannot remove temp file", "path", result.Path, "error", err)
		}
	}

	if result.writeBack == nil {
		remove()
		return
	}

	go func() {
		<-result.writeBack
		remove()
	}()
}

func (r *Resolver) ensureCacheDir() bool {
	if r.cacheDir == "" {
		return false
	}

	r.cacheDirOnce.Do(func() {
		if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
			slog.Error("images: Cannot create cache directory, falling back to network only", "dir", r.cacheDir, "error", err)
			sentry.CaptureException(err)
			r.cacheDisabled = true
		}
	})

	return !r.cacheDisabled
}

// cachePath joins the entry filename under the cache directory. Filenames are
// sanitized when the catalog is loaded; here a name that is not a single image
// file name, or that lands outside the cache, is refused.
func (r *Resolver) cachePath(entry catalog.Entry) (string, error) {
	name := entry.Filename
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || !catalog.IsImageFile(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	candidate, err := filepath.Abs(filepath.Join(r.cacheDir, name))
	if err != nil {
		return "", errors.Join(ErrUnsafePath, err)
	}

	if !r.isInsideCache(candidate) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, candidate)
	}

	return candidate, nil
}

func (r *Resolver) isInsideCache(path string) bool {
	if r.cacheDir == "" {
		return false
	}

	rel, err := filepath.Rel(r.cacheDir, path)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// storeInCache copies src to the cache path of entry through a uniquely named
// temp file and a rename.
func (r *Resolver) storeInCache(src string, entry catalog.Entry) (string, error) {
	dst, err := r.cachePath(entry)
	if err != nil {
		return "", err
	}

	tmp := filepath.Join(r.cacheDir, "."+uuid.NewString()+".part")
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	slog.Debug("images: Stored in cache", "title", entry.Title, "path", dst)

	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	if err = out.Sync(); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
