// Package status keeps the pending-record count current for displays.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
)

// Counter is the part of queue.Store the tracker reads.
type Counter interface {
	CountPending(ctx context.Context) (models.PendingCount, error)
}

// Tracker recomputes PendingCount from the store and publishes it.
type Tracker struct {
	store  Counter
	logger *events.Logger
	bus    events.Bus[models.PendingCount]

	mu   sync.RWMutex
	last models.PendingCount
	at   time.Time
}

// NewTracker creates a tracker over store.
func NewTracker(store Counter, logger *events.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.WithField("service", "status"),
	}
}

// Refresh counts pending records and publishes the result. Subscribers
// run synchronously before Refresh returns.
func (t *Tracker) Refresh(ctx context.Context) (models.PendingCount, error) {
	count, err := t.store.CountPending(ctx)
	if err != nil {
		return models.PendingCount{}, err
	}

	t.mu.Lock()
	t.last = count
	t.at = time.Now()
	t.mu.Unlock()

	t.bus.Publish(count)
	return count, nil
}

// Run refreshes every interval until ctx ends.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := t.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.WithError(err).Warn("Pending count refresh failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Subscribe registers fn for every published count.
func (t *Tracker) Subscribe(fn func(models.PendingCount)) *events.Subscription {
	return t.bus.Subscribe(fn)
}

// Last returns the last published count and when it was computed. It is
// for display only; use Refresh for a live value.
func (t *Tracker) Last() (models.PendingCount, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.at
}
