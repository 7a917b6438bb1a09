// Package pig implements the /pig request: the cooldown gate, a few random
// catalog candidates and the first one that resolves to a file.
package pig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"telegram-pig-bot/catalog"
	"telegram-pig-bot/images"

	"github.com/google/uuid"
)

const (
	CommandKey            = "pig"
	DefaultCandidateCount = 3
)

var ErrEmptyCatalog = errors.New("catalog has no images")

// CooldownError is returned while the command is still cooling down.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("command is cooling down, %.1fs left", e.Remaining.Seconds())
}

// Catalog provides the current entry snapshot.
type Catalog interface {
	Entries() []catalog.Entry
}

type Resolver interface {
	Resolve(ctx context.Context, entry catalog.Entry, preferLocal bool) (images.Result, error)
}

type Gate interface {
	Check(key string, period time.Duration) (bool, time.Duration)
	Mark(key string)
}

// Recorder is told about the outcome of every request that passed the gate.
type Recorder interface {
	RecordPick(result images.Result, err error)
	RecordCooldown()
}

type Options struct {
	Cooldown       time.Duration
	CandidateCount int
	PreferLocal    bool
	Recorder       Recorder
}

type Service struct {
	catalog  Catalog
	resolver Resolver
	gate     Gate
	opts     Options

	perm func(n int) []int
}

func NewService(cat Catalog, resolver Resolver, gate Gate, opts Options) *Service {
	if opts.CandidateCount <= 0 {
		opts.CandidateCount = DefaultCandidateCount
	}

	return &Service{
		catalog:  cat,
		resolver: resolver,
		gate:     gate,
		opts:     opts,
		perm:     rand.Perm,
	}
}

// Pick returns an image for one /pig request. The cooldown is marked once a
// candidate succeeded or all of them failed, never for rejected requests.
func (s *Service) Pick(ctx context.Context) (images.Result, error) {
	logger := slog.With("request_id", uuid.NewString())

	if cooling, remaining := s.gate.Check(CommandKey, s.opts.Cooldown); cooling {
		logger.Debug("pig: Request rejected by cooldown", "remaining", remaining)
		if s.opts.Recorder != nil {
			s.opts.Recorder.RecordCooldown()
		}
		return images.Result{}, &CooldownError{Remaining: remaining}
	}

	entries := s.catalog.Entries()
	if len(entries) == 0 {
		logger.Warn("pig: Catalog is empty")
		return images.Result{}, ErrEmptyCatalog
	}

	result, err := s.tryCandidates(ctx, logger, entries)
	s.gate.Mark(CommandKey)

	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordPick(result, err)
	}

	return result, err
}

func (s *Service) tryCandidates(ctx context.Context, logger *slog.Logger, entries []catalog.Entry) (images.Result, error) {
	count := min(s.opts.CandidateCount, len(entries))
	order := s.perm(len(entries))

	var lastErr error
	var lastEntry catalog.Entry
	for i := 0; i < count; i++ {
		entry := entries[order[i]]
		lastEntry = entry

		logger.Info("pig: Trying candidate", "candidate", i+1, "of", count, "title", entry.Title, "id", entry.ID)

		result, err := s.resolver.Resolve(ctx, entry, s.opts.PreferLocal)
		if err == nil {
			logger.Info("pig: Image resolved", "title", entry.Title, "path", result.Path, "from_cache", result.FromCache)
			return result, nil
		}
		lastErr = err

		logger.Warn("pig: Candidate failed", "title", entry.Title, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	logger.Error("pig: No candidate could be resolved", "tried", count, "error", lastErr)

	if !errors.Is(lastErr, images.ErrNoImage) {
		lastErr = errors.Join(images.ErrNoImage, lastErr)
	}

	return images.Result{Entry: lastEntry}, lastErr
}
