package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/queue"
	"github.com/TheMichaelB/visitsync/internal/services/remote"
	"github.com/TheMichaelB/visitsync/internal/services/status"
)

// Connectivity reports the shared online flag.
type Connectivity interface {
	Online() bool
}

// Engine drains the local queue to the backend. At most one drain runs at
// a time; it is the only writer of the synced flag and the history log.
type Engine struct {
	store   queue.Store
	backend remote.Backend
	online  Connectivity
	tracker *status.Tracker
	logger  *events.Logger

	// Configuration
	retention time.Duration
	now       func() time.Time

	// Drain state
	mu       sync.Mutex
	draining bool
	last     atomic.Value // DrainResult

	bus events.Bus[Event]
}

// Config contains engine configuration.
type Config struct {
	HistoryRetention time.Duration // 0 keeps history forever
	Now              func() time.Time
}

// SkipReason explains why a drain did nothing.
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipOffline  SkipReason = "offline"
	SkipInFlight SkipReason = "in_flight"
)

// RecordStats counts one collection's outcomes in a pass.
type RecordStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Failure is a record that failed to replay in a pass.
type Failure struct {
	RecordType models.RecordType `json:"record_type"`
	RecordID   string            `json:"record_id"`
	Error      string            `json:"error"`
}

// DrainResult summarizes one drain.
type DrainResult struct {
	ID         string              `json:"id,omitempty"`
	Skipped    SkipReason          `json:"skipped,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Sessions   RecordStats         `json:"sessions"`
	Visits     RecordStats         `json:"visits"`
	Failures   []Failure           `json:"failures,omitempty"`
	Purged     models.PurgeResult  `json:"purged"`
	Pending    models.PendingCount `json:"pending"`
}

// Duration returns how long the pass took.
func (r DrainResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed returns the total number of failed records.
func (r DrainResult) Failed() int {
	return r.Sessions.Failed + r.Visits.Failed
}

// Event represents a drain event.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	DrainID    string
	RecordType models.RecordType
	RecordID   string
	Error      error
	Result     *DrainResult
}

// EventType defines drain event types.
type EventType string

const (
	EventDrainStarted   EventType = "drain_started"
	EventRecordSynced   EventType = "record_synced"
	EventRecordFailed   EventType = "record_failed"
	EventDrainCompleted EventType = "drain_completed"
	EventDrainSkipped   EventType = "drain_skipped"
	EventDrainFailed    EventType = "drain_failed"
)

// DirectWrite describes an online write made without the queue.
type DirectWrite struct {
	RecordType  models.RecordType
	RecordID    string
	ApartmentID string
	WorkerID    string
	Action      models.SessionAction
	Err         error
}

// NewEngine creates a sync engine.
func NewEngine(
	store queue.Store,
	backend remote.Backend,
	online Connectivity,
	tracker *status.Tracker,
	config *Config,
	logger *events.Logger,
) *Engine {
	if config == nil {
		config = &Config{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		store:     store,
		backend:   backend,
		online:    online,
		tracker:   tracker,
		logger:    logger.WithField("component", "sync_engine"),
		retention: config.HistoryRetention,
		now:       now,
	}
}

// Subscribe registers fn for drain events. Handlers run on the draining
// goroutine.
func (e *Engine) Subscribe(fn func(Event)) *events.Subscription {
	return e.bus.Subscribe(fn)
}

// LastResult returns the last completed drain, if any.
func (e *Engine) LastResult() (DrainResult, bool) {
	r, ok := e.last.Load().(DrainResult)
	return r, ok
}

// Draining reports whether a drain is in flight.
func (e *Engine) Draining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// Drain replays every pending record once: sessions first, then visits,
// each in insertion order. A record that the backend refuses or cannot
// take stays pending and is logged as sync_failed; the pass continues.
// Storage faults abort the pass and are returned. Cancelling ctx does not
// interrupt a pass that has started.
func (e *Engine) Drain(ctx context.Context) (DrainResult, error) {
	if !e.online.Online() {
		return e.skip(SkipOffline), nil
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return e.skip(SkipInFlight), nil
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	result := DrainResult{
		ID:        uuid.NewString(),
		StartedAt: e.now(),
	}

	ctx = events.WithDrainID(context.WithoutCancel(ctx), result.ID)
	logger := e.logger.WithField("drain_id", result.ID)

	logger.Info("Starting drain")
	e.emit(Event{Type: EventDrainStarted, DrainID: result.ID})

	if err := e.drainSessions(ctx, logger, &result); err != nil {
		return e.fail(logger, result, err)
	}
	if err := e.drainVisits(ctx, logger, &result); err != nil {
		return e.fail(logger, result, err)
	}

	purged, err := e.store.PurgeSynced(ctx)
	if err != nil {
		return e.fail(logger, result, fmt.Errorf("purge synced: %w", err))
	}
	result.Purged = purged

	pending, err := e.tracker.Refresh(ctx)
	if err != nil {
		return e.fail(logger, result, fmt.Errorf("refresh pending count: %w", err))
	}
	result.Pending = pending
	result.FinishedAt = e.now()
	e.last.Store(result)

	e.emit(Event{Type: EventDrainCompleted, DrainID: result.ID, Result: &result})

	logger.WithFields(map[string]interface{}{
		"duration":          result.Duration(),
		"sessions_synced":   result.Sessions.Succeeded,
		"sessions_failed":   result.Sessions.Failed,
		"visits_synced":     result.Visits.Succeeded,
		"visits_failed":     result.Visits.Failed,
		"pending_remaining": result.Pending.Total(),
	}).Info("Drain completed")

	return result, nil
}

func (e *Engine) drainSessions(ctx context.Context, logger *events.Logger, result *DrainResult) error {
	sessions, err := e.store.ListPendingSessions(ctx)
	if err != nil {
		return fmt.Errorf("list pending sessions: %w", err)
	}

	for _, s := range sessions {
		result.Sessions.Attempted++

		var rerr error
		switch s.Action {
		case models.SessionStart:
			rerr = e.backend.StartSession(ctx, s.WorkerID, s.ApartmentID, s.EnqueuedAt)
		case models.SessionEnd:
			rerr = e.backend.EndSession(ctx, s.WorkerID, s.ApartmentID, s.EnqueuedAt)
		default:
			rerr = fmt.Errorf("%w: unknown session action %q", models.ErrInvalidRecord, s.Action)
		}

		details := models.HistoryDetails{
			ApartmentID: s.ApartmentID,
			WorkerID:    s.WorkerID,
			Action:      s.Action,
		}

		if rerr != nil {
			result.Sessions.Failed++
			if err := e.recordFailure(ctx, logger, result, models.RecordSession, s.ID, details, rerr); err != nil {
				return err
			}
			continue
		}

		if err := e.store.MarkSessionSynced(ctx, s.ID); err != nil {
			return fmt.Errorf("mark session %s synced: %w", s.ID, err)
		}
		result.Sessions.Succeeded++
		if err := e.recordSuccess(ctx, result, models.RecordSession, s.ID, details); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) drainVisits(ctx context.Context, logger *events.Logger, result *DrainResult) error {
	visits, err := e.store.ListPendingVisits(ctx)
	if err != nil {
		return fmt.Errorf("list pending visits: %w", err)
	}

	for _, v := range visits {
		result.Visits.Attempted++

		details := models.HistoryDetails{
			ApartmentID: v.ApartmentID,
			WorkerID:    v.WorkerID,
		}

		if rerr := e.backend.InsertVisit(ctx, v.Visit()); rerr != nil {
			result.Visits.Failed++
			if err := e.recordFailure(ctx, logger, result, models.RecordVisit, v.ID, details, rerr); err != nil {
				return err
			}
			continue
		}

		if err := e.store.MarkVisitSynced(ctx, v.ID); err != nil {
			return fmt.Errorf("mark visit %s synced: %w", v.ID, err)
		}
		result.Visits.Succeeded++
		if err := e.recordSuccess(ctx, result, models.RecordVisit, v.ID, details); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recordSuccess(ctx context.Context, result *DrainResult, rt models.RecordType, id string, details models.HistoryDetails) error {
	entry := models.HistoryEntry{
		RecordType:   rt,
		Outcome:      models.OutcomeSuccess,
		ReferencedID: id,
		Details:      details,
	}
	if err := e.store.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	e.emit(Event{Type: EventRecordSynced, DrainID: result.ID, RecordType: rt, RecordID: id})
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, logger *events.Logger, result *DrainResult, rt models.RecordType, id string, details models.HistoryDetails, cause error) error {
	logger.WithError(cause).WithFields(map[string]interface{}{
		"record_type": rt,
		"record_id":   id,
	}).Warn("Record failed to sync")

	details.Error = cause.Error()
	entry := models.HistoryEntry{
		RecordType:   rt,
		Outcome:      models.OutcomeFailed,
		ReferencedID: id,
		Details:      details,
	}
	if err := e.store.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	result.Failures = append(result.Failures, Failure{RecordType: rt, RecordID: id, Error: cause.Error()})
	e.emit(Event{Type: EventRecordFailed, DrainID: result.ID, RecordType: rt, RecordID: id, Error: cause})
	return nil
}

func (e *Engine) skip(reason SkipReason) DrainResult {
	now := e.now()
	result := DrainResult{Skipped: reason, StartedAt: now, FinishedAt: now}

	e.logger.WithField("reason", reason).Debug("Drain skipped")
	e.emit(Event{Type: EventDrainSkipped, Result: &result})
	return result
}

func (e *Engine) fail(logger *events.Logger, result DrainResult, err error) (DrainResult, error) {
	result.FinishedAt = e.now()
	logger.WithError(err).Error("Drain aborted")
	e.emit(Event{Type: EventDrainFailed, DrainID: result.ID, Error: err, Result: &result})
	return result, err
}

// RecordDirect appends the history entry of an online direct write.
func (e *Engine) RecordDirect(ctx context.Context, w DirectWrite) error {
	entry := models.HistoryEntry{
		RecordType:   w.RecordType,
		Outcome:      models.OutcomeSuccess,
		ReferencedID: w.RecordID,
		Details: models.HistoryDetails{
			ApartmentID: w.ApartmentID,
			WorkerID:    w.WorkerID,
			Action:      w.Action,
			Direct:      true,
		},
	}
	if w.Err != nil {
		entry.Outcome = models.OutcomeFailed
		entry.Details.Error = w.Err.Error()
	}

	if err := e.store.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// PruneHistory deletes history older than the retention window.
func (e *Engine) PruneHistory(ctx context.Context) (int, error) {
	if e.retention <= 0 {
		return 0, nil
	}

	before := e.now().Add(-e.retention)
	n, err := e.store.PruneHistory(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}

	if n > 0 {
		e.logger.WithFields(map[string]interface{}{
			"deleted": n,
			"before":  before,
		}).Info("Pruned sync history")
	}
	return n, nil
}

func (e *Engine) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	e.bus.Publish(ev)
}
