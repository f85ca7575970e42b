// Package feed redistributes stored killmails to independent consumers over a
// RedisQ-style long poll. Each consumer is tracked by an opaque queue ID and
// receives killmails strictly in increasing ID order.
package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"killbase"
)

// KillmailSource reads fully assembled packages (nested killmail plus meta)
// back out of the store.
type KillmailSource interface {
	// NewestPackage returns the single most recently stored killmail.
	NewestPackage(ctx context.Context) (*killbase.FeedPackage, bool, error)

	// NextPackageAfter returns the oldest killmail with an ID strictly
	// greater than the given one.
	NextPackageAfter(ctx context.Context, killmailID int32) (*killbase.FeedPackage, bool, error)
}

// CursorStore keeps per-consumer positions and liveness. Entries expire after
// an inactivity window; concurrent writers under one queue ID resolve
// last-writer-wins.
type CursorStore interface {
	Cursor(ctx context.Context, queueID string) (int32, bool, error)
	SetCursor(ctx context.Context, queueID string, killmailID int32) error

	// Touch refreshes the consumer's liveness entry and keeps its stored
	// cursor alive. Called on every poll so a consumer on a quiet feed does
	// not lose its position.
	Touch(ctx context.Context, queueID string) error
}

const (
	MinWait     = 1 * time.Second
	MaxWait     = 10 * time.Second
	DefaultWait = 10 * time.Second

	defaultPollInterval = 500 * time.Millisecond
)

// ClampWait converts the ttw query parameter into a bounded wait window.
func ClampWait(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultWait
	}

	wait := time.Duration(seconds) * time.Second
	if wait < MinWait {
		return MinWait
	}
	if wait > MaxWait {
		return MaxWait
	}

	return wait
}

type Service struct {
	source       KillmailSource
	cursors      CursorStore
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewService builds the long-poll service. pollInterval 0 selects the default
// 500ms store re-check cadence.
func NewService(source KillmailSource, cursors CursorStore, pollInterval time.Duration, logger zerolog.Logger) *Service {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Service{
		source:       source,
		cursors:      cursors,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Poll delivers the next killmail for the queue, waiting up to the given
// bound for one to appear. A first-time consumer starts at the current tip,
// not at the beginning of history. Returns nil when the window expires with
// nothing new.
func (s *Service) Poll(ctx context.Context, queueID string, wait time.Duration) (*killbase.FeedPackage, error) {
	if wait <= 0 {
		wait = DefaultWait
	}

	if err := s.cursors.Touch(ctx, queueID); err != nil {
		// Liveness is advisory; a failed refresh must not block delivery.
		s.logger.Warn().Err(err).Str("queue-id", queueID).Msg("failed to refresh queue liveness")
	}

	cursor, positioned, err := s.cursors.Cursor(ctx, queueID)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(wait)

	for {
		pkg, found, err := s.next(ctx, cursor, positioned)
		if err != nil {
			return nil, err
		}

		if found {
			if err := s.cursors.SetCursor(ctx, queueID, pkg.KillID); err != nil {
				return nil, err
			}
			return pkg, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		interval := min(s.pollInterval, remaining)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Service) next(ctx context.Context, cursor int32, positioned bool) (*killbase.FeedPackage, bool, error) {
	if !positioned {
		return s.source.NewestPackage(ctx)
	}

	return s.source.NextPackageAfter(ctx, cursor)
}
