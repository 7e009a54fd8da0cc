// Package archive moves conversations that have gone quiet to the archived status.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/itorigin/origin-chat/internal/feed"
	"github.com/itorigin/origin-chat/internal/metrics"
	"github.com/itorigin/origin-chat/internal/store"
)

// Sweeper archives active and closed conversations with no activity for a while.
type Sweeper struct {
	repo        store.Repository
	publisher   feed.Publisher
	inactiveFor time.Duration
	now         func() time.Time
}

// NewSweeper creates a sweeper. publisher may be nil.
func NewSweeper(repo store.Repository, inactiveFor time.Duration, publisher feed.Publisher) *Sweeper {
	if publisher == nil {
		publisher = feed.Nop{}
	}
	return &Sweeper{repo: repo, publisher: publisher, inactiveFor: inactiveFor, now: time.Now}
}

// Sweep archives every eligible conversation once and returns their IDs.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	if s.inactiveFor <= 0 {
		return nil, fmt.Errorf("inactivity threshold must be positive, got %s", s.inactiveFor)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	cutoff := now.Add(-s.inactiveFor)
	ids, err := s.repo.ArchiveInactive(ctx, cutoff, now)
	if err != nil {
		return nil, fmt.Errorf("archive inactive conversations: %w", err)
	}

	for _, id := range ids {
		s.publisher.Publish(feed.StatusChanged(id, domain.StatusArchived, now))
	}
	metrics.ArchivedConversationsTotal.Add(float64(len(ids)))
	return ids, nil
}

// StartWorker runs a background goroutine that sweeps every interval until ctx is done.
func (s *Sweeper) StartWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Archive worker started", "interval", interval, "inactive_for", s.inactiveFor)

		for {
			select {
			case <-ticker.C:
				ids, err := s.Sweep(ctx)
				if err != nil {
					slog.Error("Archive worker sweep failed", "error", err)
					continue
				}
				if len(ids) > 0 {
					slog.Info("Archive worker archived conversations", "count", len(ids))
				}
			case <-ctx.Done():
				slog.Info("Archive worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
