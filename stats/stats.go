package stats

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"telegram-pig-bot/images"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
)

type Stats struct {
	mu  sync.Mutex
	now func() time.Time

	RunningSince time.Time

	PigRequests       uint64
	CooldownRejects   uint64
	CacheHits         uint64
	Downloads         uint64
	Failures          uint64
	CatalogSyncs      uint64
	CatalogUpdates    uint64
	CatalogSyncErrors uint64
	LastSync          time.Time
}

func NewStats() *Stats {
	return &Stats{
		now:          time.Now,
		RunningSince: time.Now(),
	}
}

func (s *Stats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastSync := "never"
	if !s.LastSync.IsZero() {
		lastSync = humanize.RelTime(s.LastSync, s.now(), "ago", "from now")
	}

	return json.Marshal(struct {
		Uptime string `json:"uptime"`

		PigRequests     uint64 `json:"pig_requests"`
		CooldownRejects uint64 `json:"cooldown_rejects"`
		CacheHits       uint64 `json:"cache_hits"`
		Downloads       uint64 `json:"downloads"`
		Failures        uint64 `json:"failures"`

		CatalogSyncs      uint64 `json:"catalog_syncs"`
		CatalogUpdates    uint64 `json:"catalog_updates"`
		CatalogSyncErrors uint64 `json:"catalog_sync_errors"`
		LastSync          string `json:"last_sync"`
	}{
		Uptime: strings.TrimSpace(humanize.RelTime(s.RunningSince, s.now(), "", "")),

		PigRequests:     s.PigRequests,
		CooldownRejects: s.CooldownRejects,
		CacheHits:       s.CacheHits,
		Downloads:       s.Downloads,
		Failures:        s.Failures,

		CatalogSyncs:      s.CatalogSyncs,
		CatalogUpdates:    s.CatalogUpdates,
		CatalogSyncErrors: s.CatalogSyncErrors,
		LastSync:          lastSync,
	})
}

func (s *Stats) String() string {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		sentry.CaptureException(err)

		return "{\"error\": \"cannot serialize stats\"}"
	}

	return string(data)
}

// RecordPick counts a /pig request that passed the cooldown gate.
func (s *Stats) RecordPick(result images.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.PigRequests++
	switch {
	case err != nil:
		s.Failures++
	case result.FromCache:
		s.CacheHits++
	default:
		s.Downloads++
	}
}

func (s *Stats) RecordCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CooldownRejects++
}

func (s *Stats) RecordSync(changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CatalogSyncs++
	s.LastSync = s.now()
	if err != nil {
		s.CatalogSyncErrors++
	}
	if changed {
		s.CatalogUpdates++
	}
}
