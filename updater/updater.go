// Package updater keeps the local catalog file in step with the remote image
// listing, once at startup and then periodically at local midnight.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telegram-pig-bot/catalog"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
)

const defaultFetchTimeout = 10 * time.Second

var (
	ErrRemoteFetch     = errors.New("cannot fetch remote catalog")
	ErrRemoteMalformed = errors.New("remote catalog is malformed")
	ErrRemoteEmpty     = errors.New("remote catalog has no images")
)

// Fetcher performs a GET request and returns the response body.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Recorder is told about every finished sync.
type Recorder interface {
	RecordSync(changed bool, err error)
}

type Options struct {
	RemoteURL    string
	FetchTimeout time.Duration
	// IntervalDays enables RunPeriodic when positive.
	IntervalDays int
	Recorder     Recorder
}

type Updater struct {
	store        *catalog.Store
	fetcher      Fetcher
	remoteURL    string
	fetchTimeout time.Duration
	intervalDays int
	recorder     Recorder

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

func New(store *catalog.Store, fetcher Fetcher, opts Options) *Updater {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &Updater{
		store:        store,
		fetcher:      fetcher,
		remoteURL:    opts.RemoteURL,
		fetchTimeout: timeout,
		intervalDays: opts.IntervalDays,
		recorder:     opts.Recorder,
		now:          time.Now,
		after:        time.After,
	}
}

// FetchRemote downloads the remote listing. Failures are not retried here,
// the next cycle tries again.
func (u *Updater) FetchRemote(ctx context.Context) (*catalog.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, u.fetchTimeout)
	defer cancel()

	body, err := u.fetcher.Get(ctx, u.remoteURL)
	if err != nil {
		return nil, errors.Join(ErrRemoteFetch, err)
	}

	var doc catalog.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Join(ErrRemoteMalformed, err)
	}
	if doc.Images == nil {
		return nil, fmt.Errorf("%w: no images list", ErrRemoteMalformed)
	}

	slog.Debug("updater: Remote catalog fetched", "url", u.remoteURL, "images", len(doc.Images), "size", humanize.Bytes(uint64(len(body))))

	return &doc, nil
}

// Reconcile reports whether local must be replaced by remote: when there is
// no local document, when the counts differ or when the id sets differ.
// Records without an id take no part in the id comparison.
func Reconcile(remote, local *catalog.Document) bool {
	if local == nil {
		return true
	}
	if remote == nil {
		return false
	}
	if len(remote.Images) != len(local.Images) {
		return true
	}

	remoteIDs := idSet(remote)
	localIDs := idSet(local)
	if len(remoteIDs) != len(localIDs) {
		return true
	}
	for id := range remoteIDs {
		if _, ok := localIDs[id]; !ok {
			return true
		}
	}

	return false
}

// SyncOnce fetches the remote listing and, when it differs from the local
// file, rewrites the file and reloads the store. An empty remote listing is
// refused with ErrRemoteEmpty before Reconcile runs, even though its count
// differs from a non-empty local file, so a broken response cannot wipe the
// catalog.
func (u *Updater) SyncOnce(ctx context.Context) (changed bool, err error) {
	defer func() {
		if u.recorder != nil {
			u.recorder.RecordSync(changed, err)
		}
	}()

	slog.Info("updater: Checking remote catalog", "url", u.remoteURL)

	remote, err := u.FetchRemote(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("updater: Cannot fetch remote catalog", "error", err)
			sentry.CaptureException(err)
		}
		return false, err
	}

	if len(remote.Images) == 0 {
		slog.Warn("updater: Remote catalog is empty, keeping local catalog")
		return false, ErrRemoteEmpty
	}

	local, err := u.store.ReadDocument()
	if err != nil {
		slog.Info("updater: Local catalog unavailable, replacing it", "path", u.store.Path(), "error", err)
		local = nil
	}

	if !Reconcile(remote, local) {
		slog.Info("updater: Catalog is up to date", "images", len(remote.Images))
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	added, removed := diff(remote, local)

	if err := u.store.WriteAtomic(remote); err != nil {
		slog.Error("updater: Cannot write catalog", "path", u.store.Path(), "error", err)
		sentry.CaptureException(err)
		return false, err
	}

	entries, err := u.store.Load()
	if err != nil {
		return true, err
	}

	slog.Info("updater: Catalog updated",
		"images", len(remote.Images),
		"usable", len(entries),
		"added", added,
		"removed", removed,
	)
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: "updater",
		Message:  fmt.Sprintf("catalog updated: %d images (+%d/-%d)", len(remote.Images), added, removed),
		Level:    sentry.LevelInfo,
	})

	return true, nil
}

// RunPeriodic syncs at every NextFireTime until ctx is done. It does nothing
// when no interval is configured.
func (u *Updater) RunPeriodic(ctx context.Context) {
	if u.intervalDays <= 0 {
		slog.Debug("updater: Periodic sync disabled")
		return
	}

	var last time.Time
	for {
		now := u.now()
		next := NextFireTime(now, last, u.intervalDays)

		slog.Info("updater: Next catalog sync scheduled",
			"at", next.Format(time.DateTime),
			"in", humanize.RelTime(now, next, "from now", "ago"),
		)

		select {
		case <-ctx.Done():
			slog.Info("updater: Periodic sync stopped")
			return
		case <-u.after(next.Sub(now)):
		}

		if ctx.Err() != nil {
			return
		}

		last = next
		if _, err := u.SyncOnce(ctx); err != nil {
			slog.Warn("updater: Periodic sync failed", "error", err)
		}
	}
}

func idSet(doc *catalog.Document) map[string]struct{} {
	ids := make(map[string]struct{}, len(doc.Images))
	for _, entry := range doc.DecodeEntries(nil) {
		if key, ok := entry.IdentityKey(); ok {
			ids[key] = struct{}{}
		}
	}

	return ids
}

func diff(remote, local *catalog.Document) (added, removed int) {
	remoteIDs := idSet(remote)
	if local == nil {
		return len(remoteIDs), 0
	}
	localIDs := idSet(local)

	for id := range remoteIDs {
		if _, ok := localIDs[id]; !ok {
			added++
		}
	}
	for id := range localIDs {
		if _, ok := remoteIDs[id]; !ok {
			removed++
		}
	}

	return added, removed
}
