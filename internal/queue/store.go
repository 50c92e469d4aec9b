package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/visitsync/internal/models"
)

// Store is the durable local store for pending writes and sync history.
//
// Every method returns errors matching models.ErrStorageFault when the
// underlying storage fails; callers must assume nothing was persisted.
type Store interface {
	// EnqueueVisit persists a pending visit and returns its id. An empty id
	// is replaced by a fresh one.
	EnqueueVisit(ctx context.Context, v models.PendingVisit) (string, error)

	// EnqueueSession persists a pending session transition.
	EnqueueSession(ctx context.Context, s models.PendingSession) (string, error)

	// ListPendingVisits returns unsynced visits in insertion order.
	ListPendingVisits(ctx context.Context) ([]models.PendingVisit, error)

	// ListPendingSessions returns unsynced sessions in insertion order.
	ListPendingSessions(ctx context.Context) ([]models.PendingSession, error)

	// MarkVisitSynced flags a visit as synced. Unknown or already synced
	// ids are a no-op.
	MarkVisitSynced(ctx context.Context, id string) error

	// MarkSessionSynced flags a session as synced.
	MarkSessionSynced(ctx context.Context, id string) error

	// PurgeSynced deletes synced records from both collections.
	PurgeSynced(ctx context.Context) (models.PurgeResult, error)

	// AppendHistory appends an audit entry, assigning id and timestamp
	// when absent.
	AppendHistory(ctx context.Context, e models.HistoryEntry) error

	// QueryHistory returns the most recent entries first. limit <= 0
	// means models.DefaultHistoryLimit.
	QueryHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error)

	// AggregateStats counts history outcomes.
	AggregateStats(ctx context.Context) (models.SyncStats, error)

	// CountPending counts unsynced records at call time.
	CountPending(ctx context.Context) (models.PendingCount, error)

	// OldestPending reports when the oldest unsynced record was enqueued.
	OldestPending(ctx context.Context) (models.QueueAge, error)

	// PruneHistory deletes history entries older than before.
	PruneHistory(ctx context.Context, before time.Time) (int, error)

	// Close releases resources.
	Close() error
}

// Operation names used in storage errors.
const (
	OpEnqueueVisit        = "enqueue visit"
	OpEnqueueSession      = "enqueue session"
	OpListPendingVisits   = "list pending visits"
	OpListPendingSessions = "list pending sessions"
	OpMarkVisitSynced     = "mark visit synced"
	OpMarkSessionSynced   = "mark session synced"
	OpPurgeSynced         = "purge synced"
	OpAppendHistory       = "append history"
	OpQueryHistory        = "query history"
	OpAggregateStats      = "aggregate stats"
	OpCountPending        = "count pending"
	OpOldestPending       = "oldest pending"
	OpPruneHistory        = "prune history"
)

// CurrentSchemaVersion of the SQLite layout.
const CurrentSchemaVersion = 1

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// stamper hands out strictly increasing UTC timestamps.
type stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newStamper(now func() time.Time) *stamper {
	return &stamper{now: now}
}

func (s *stamper) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

// observe raises the floor to t, e.g. after reopening a database.
func (s *stamper) observe(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.After(s.last) {
		s.last = t.UTC()
	}
}

func newID() string {
	return uuid.NewString()
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return models.DefaultHistoryLimit
	}
	return limit
}
