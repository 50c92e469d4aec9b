package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheMichaelB/visitsync/internal/models"
)

// MemoryStore implements Store in memory. It is used in tests and for
// embedding without a database; FailOn injects storage faults.
type MemoryStore struct {
	mu       sync.RWMutex
	visits   []models.PendingVisit
	sessions []models.PendingSession
	history  []models.HistoryEntry
	stamp    *stamper
	faults   map[string]error
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		stamp:  newStamper(o.now),
		faults: make(map[string]error),
	}
}

// FailOn makes every later call of op fail with err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// fault must be called with mu held.
func (m *MemoryStore) fault(op string) error {
	if m.closed {
		return models.NewStorageError(op, fmt.Errorf("store is closed"))
	}
	if err, ok := m.faults[op]; ok {
		return models.NewStorageError(op, err)
	}
	return nil
}

// EnqueueVisit persists a pending visit.
func (m *MemoryStore) EnqueueVisit(ctx context.Context, v models.PendingVisit) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpEnqueueVisit); err != nil {
		return "", err
	}
	if v.ID == "" {
		v.ID = newID()
	}
	for _, existing := range m.visits {
		if existing.ID == v.ID {
			return "", fmt.Errorf("%w: visit %s", models.ErrDuplicateRecord, v.ID)
		}
	}

	v = copyVisit(v)
	v.EnqueuedAt = m.stamp.next()
	if v.VisitDate.IsZero() {
		v.VisitDate = v.EnqueuedAt
	}
	v.VisitDate = v.VisitDate.UTC()
	v.Synced = false
	m.visits = append(m.visits, v)

	return v.ID, nil
}

// EnqueueSession persists a pending session transition.
func (m *MemoryStore) EnqueueSession(ctx context.Context, s models.PendingSession) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpEnqueueSession); err != nil {
		return "", err
	}
	if s.ID == "" {
		s.ID = newID()
	}
	for _, existing := range m.sessions {
		if existing.ID == s.ID {
			return "", fmt.Errorf("%w: session %s", models.ErrDuplicateRecord, s.ID)
		}
	}

	s.EnqueuedAt = m.stamp.next()
	s.Synced = false
	m.sessions = append(m.sessions, s)

	return s.ID, nil
}

// ListPendingVisits returns unsynced visits in insertion order.
func (m *MemoryStore) ListPendingVisits(ctx context.Context) ([]models.PendingVisit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpListPendingVisits); err != nil {
		return nil, err
	}

	out := []models.PendingVisit{}
	for _, v := range m.visits {
		if !v.Synced {
			out = append(out, copyVisit(v))
		}
	}
	return out, nil
}

// ListPendingSessions returns unsynced sessions in insertion order.
func (m *MemoryStore) ListPendingSessions(ctx context.Context) ([]models.PendingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpListPendingSessions); err != nil {
		return nil, err
	}

	out := []models.PendingSession{}
	for _, s := range m.sessions {
		if !s.Synced {
			out = append(out, s)
		}
	}
	return out, nil
}

// MarkVisitSynced flags a visit as synced.
func (m *MemoryStore) MarkVisitSynced(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpMarkVisitSynced); err != nil {
		return err
	}
	for i := range m.visits {
		if m.visits[i].ID == id {
			m.visits[i].Synced = true
			break
		}
	}
	return nil
}

// MarkSessionSynced flags a session as synced.
func (m *MemoryStore) MarkSessionSynced(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpMarkSessionSynced); err != nil {
		return err
	}
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			m.sessions[i].Synced = true
			break
		}
	}
	return nil
}

// PurgeSynced deletes synced records from both collections.
func (m *MemoryStore) PurgeSynced(ctx context.Context) (models.PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result models.PurgeResult
	if err := m.fault(OpPurgeSynced); err != nil {
		return result, err
	}

	visits := m.visits[:0]
	for _, v := range m.visits {
		if v.Synced {
			result.Visits++
			continue
		}
		visits = append(visits, v)
	}
	m.visits = visits

	sessions := m.sessions[:0]
	for _, s := range m.sessions {
		if s.Synced {
			result.Sessions++
			continue
		}
		sessions = append(sessions, s)
	}
	m.sessions = sessions

	return result, nil
}

// AppendHistory appends an audit entry.
func (m *MemoryStore) AppendHistory(ctx context.Context, e models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpAppendHistory); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.stamp.next()
	} else {
		e.Timestamp = e.Timestamp.UTC()
		m.stamp.observe(e.Timestamp)
	}
	m.history = append(m.history, e)

	return nil
}

// QueryHistory returns the most recent entries first.
func (m *MemoryStore) QueryHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpQueryHistory); err != nil {
		return nil, err
	}

	limit = historyLimit(limit)

	// newest first; reversing before a stable sort keeps later appends
	// ahead on equal timestamps
	out := make([]models.HistoryEntry, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		out = append(out, m.history[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AggregateStats counts history outcomes.
func (m *MemoryStore) AggregateStats(ctx context.Context) (models.SyncStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats models.SyncStats
	if err := m.fault(OpAggregateStats); err != nil {
		return stats, err
	}
	for _, e := range m.history {
		stats.Add(e.Outcome)
	}
	return stats, nil
}

// CountPending counts unsynced records.
func (m *MemoryStore) CountPending(ctx context.Context) (models.PendingCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count models.PendingCount
	if err := m.fault(OpCountPending); err != nil {
		return count, err
	}
	for _, v := range m.visits {
		if !v.Synced {
			count.Visits++
		}
	}
	for _, s := range m.sessions {
		if !s.Synced {
			count.Sessions++
		}
	}
	return count, nil
}

// OldestPending reports the enqueue time of the oldest unsynced record.
func (m *MemoryStore) OldestPending(ctx context.Context) (models.QueueAge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpOldestPending); err != nil {
		return models.QueueAge{}, err
	}

	var oldest time.Time
	consider := func(t time.Time) {
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	for _, v := range m.visits {
		if !v.Synced {
			consider(v.EnqueuedAt)
		}
	}
	for _, s := range m.sessions {
		if !s.Synced {
			consider(s.EnqueuedAt)
		}
	}

	if oldest.IsZero() {
		return models.QueueAge{Empty: true}, nil
	}
	return models.QueueAge{Oldest: oldest}, nil
}

// PruneHistory deletes entries older than before.
func (m *MemoryStore) PruneHistory(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpPruneHistory); err != nil {
		return 0, err
	}

	kept := m.history[:0]
	deleted := 0
	for _, e := range m.history {
		if e.Timestamp.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.history = kept

	return deleted, nil
}

// Close marks the store closed; later calls fail with a storage fault.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Helper functions

func copyVisit(v models.PendingVisit) models.PendingVisit {
	if v.TasksCompleted != nil {
		v.TasksCompleted = append([]string{}, v.TasksCompleted...)
	} else {
		v.TasksCompleted = []string{}
	}
	if v.Notes != nil {
		n := *v.Notes
		v.Notes = &n
	}
	return v
}
