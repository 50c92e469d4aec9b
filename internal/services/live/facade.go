package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/queue"
	"github.com/TheMichaelB/visitsync/internal/services/remote"
	syncsvc "github.com/TheMichaelB/visitsync/internal/services/sync"
)

// Connectivity reports the shared online flag.
type Connectivity interface {
	Online() bool
}

// Recorder appends the history entry of a direct write.
type Recorder interface {
	RecordDirect(ctx context.Context, w syncsvc.DirectWrite) error
}

// PendingRefresher recounts and republishes pending records.
type PendingRefresher interface {
	Refresh(ctx context.Context) (models.PendingCount, error)
}

// WorkerSource supplies the worker writes default to.
type WorkerSource interface {
	WorkerID() (string, error)
}

// WriteResult tells the caller where a write went.
type WriteResult struct {
	ID     string `json:"id"`
	Queued bool   `json:"queued"`
}

// Facade is the read/write gateway for the application. Online writes go
// straight to the backend; offline writes are queued for the next drain.
// It is the only writer of the in-memory snapshot.
type Facade struct {
	backend  remote.Backend
	store    queue.Store
	online   Connectivity
	recorder Recorder
	pending  PendingRefresher
	worker   WorkerSource
	logger   *events.Logger
	now      func() time.Time

	mu      sync.RWMutex
	snap    Snapshot
	version uint64

	bus events.Bus[Snapshot]
}

// Deps groups the collaborators of a Facade.
type Deps struct {
	Backend  remote.Backend
	Store    queue.Store
	Online   Connectivity
	Recorder Recorder
	Pending  PendingRefresher
	Worker   WorkerSource
	Now      func() time.Time
}

// NewFacade creates a façade with an empty snapshot.
func NewFacade(deps Deps, logger *events.Logger) *Facade {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Facade{
		backend:  deps.Backend,
		store:    deps.Store,
		online:   deps.Online,
		recorder: deps.Recorder,
		pending:  deps.Pending,
		worker:   deps.Worker,
		logger:   logger.WithField("component", "live_facade"),
		now:      now,
	}
}

// Snapshot returns a copy of the current synced entities.
func (f *Facade) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap.clone()
}

// Subscribe registers fn for snapshot replacements.
func (f *Facade) Subscribe(fn func(Snapshot)) *events.Subscription {
	return f.bus.Subscribe(fn)
}

// WriteVisit records a visit. The worker defaults to the current worker.
// Online failures are returned; they are never queued.
func (f *Facade) WriteVisit(ctx context.Context, in models.VisitInput) (WriteResult, error) {
	in.Normalize(f.now())
	if in.WorkerID == "" && f.worker != nil {
		id, err := f.worker.WorkerID()
		if err != nil {
			return WriteResult{}, err
		}
		in.WorkerID = id
	}
	if err := in.Validate(); err != nil {
		return WriteResult{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	logger := f.logger.WithFields(map[string]interface{}{
		"visit_id":     in.ID,
		"apartment_id": in.ApartmentID,
	})

	if !f.online.Online() {
		id, err := f.store.EnqueueVisit(ctx, in.Pending())
		if err != nil {
			return WriteResult{}, fmt.Errorf("queue visit: %w", err)
		}
		f.refreshPending(ctx)
		logger.Info("Visit queued while offline")
		return WriteResult{ID: id, Queued: true}, nil
	}

	visit := in.Visit(in.ID)
	tx := f.begin(func(s *Snapshot) {
		s.Visits = append([]models.Visit{visit}, s.Visits...)
	})

	direct := syncsvc.DirectWrite{
		RecordType:  models.RecordVisit,
		RecordID:    in.ID,
		ApartmentID: in.ApartmentID,
		WorkerID:    in.WorkerID,
	}

	if err := f.backend.InsertVisit(ctx, visit); err != nil {
		tx.rollback()
		direct.Err = err
		f.recordDirect(ctx, direct)
		logger.WithError(err).Warn("Direct visit write failed")
		return WriteResult{}, err
	}

	tx.commit()
	f.refetch(ctx, models.TableVisits)
	f.recordDirect(ctx, direct)
	logger.Debug("Visit written")
	return WriteResult{ID: in.ID}, nil
}

// StartSession marks the worker as present at the apartment.
func (f *Facade) StartSession(ctx context.Context, workerID, apartmentID string) (WriteResult, error) {
	return f.writeSession(ctx, workerID, apartmentID, models.SessionStart)
}

// EndSession marks the worker as gone from the apartment.
func (f *Facade) EndSession(ctx context.Context, workerID, apartmentID string) (WriteResult, error) {
	return f.writeSession(ctx, workerID, apartmentID, models.SessionEnd)
}

func (f *Facade) writeSession(ctx context.Context, workerID, apartmentID string, action models.SessionAction) (WriteResult, error) {
	if workerID == "" && f.worker != nil {
		id, err := f.worker.WorkerID()
		if err != nil {
			return WriteResult{}, err
		}
		workerID = id
	}

	p := models.PendingSession{
		WorkerID:    models.NormalizeText(workerID),
		ApartmentID: models.NormalizeText(apartmentID),
		Action:      action,
	}
	if err := p.Validate(); err != nil {
		return WriteResult{}, err
	}

	logger := f.logger.WithFields(map[string]interface{}{
		"worker_id":    p.WorkerID,
		"apartment_id": p.ApartmentID,
		"action":       action,
	})

	if !f.online.Online() {
		id, err := f.store.EnqueueSession(ctx, p)
		if err != nil {
			return WriteResult{}, fmt.Errorf("queue session: %w", err)
		}
		f.refreshPending(ctx)
		logger.Info("Session change queued while offline")
		return WriteResult{ID: id, Queued: true}, nil
	}

	at := f.now().UTC()
	var tx *transaction
	var err error
	switch action {
	case models.SessionStart:
		tx = f.begin(func(s *Snapshot) {
			s.Sessions = withoutSession(s.Sessions, p.WorkerID, p.ApartmentID)
			s.Sessions = append([]models.ActiveSession{{
				WorkerID:    p.WorkerID,
				ApartmentID: p.ApartmentID,
				Status:      models.SessionActive,
				StartedAt:   at,
			}}, s.Sessions...)
		})
		err = f.backend.StartSession(ctx, p.WorkerID, p.ApartmentID, at)
	case models.SessionEnd:
		tx = f.begin(func(s *Snapshot) {
			s.Sessions = withoutSession(s.Sessions, p.WorkerID, p.ApartmentID)
		})
		err = f.backend.EndSession(ctx, p.WorkerID, p.ApartmentID, at)
	}

	direct := syncsvc.DirectWrite{
		RecordType:  models.RecordSession,
		RecordID:    uuid.NewString(),
		ApartmentID: p.ApartmentID,
		WorkerID:    p.WorkerID,
		Action:      action,
	}

	if err != nil {
		tx.rollback()
		direct.Err = err
		f.recordDirect(ctx, direct)
		logger.WithError(err).Warn("Direct session write failed")
		return WriteResult{}, err
	}

	tx.commit()
	f.refetch(ctx, models.TableActiveSessions)
	f.recordDirect(ctx, direct)
	logger.Debug("Session change written")
	return WriteResult{ID: direct.RecordID}, nil
}

// Refresh refetches every entity list and replaces the snapshot. On error
// the snapshot is left as it was.
func (f *Facade) Refresh(ctx context.Context) error {
	var next Snapshot
	var err error

	if next.Workers, err = f.backend.ListWorkers(ctx); err != nil {
		return fmt.Errorf("refresh workers: %w", err)
	}
	if next.Buildings, err = f.backend.ListBuildings(ctx); err != nil {
		return fmt.Errorf("refresh buildings: %w", err)
	}
	if next.Apartments, err = f.backend.ListApartments(ctx); err != nil {
		return fmt.Errorf("refresh apartments: %w", err)
	}
	if next.Visits, err = f.backend.ListVisits(ctx); err != nil {
		return fmt.Errorf("refresh visits: %w", err)
	}
	if next.Sessions, err = f.backend.ListActiveSessions(ctx); err != nil {
		return fmt.Errorf("refresh sessions: %w", err)
	}

	next.UpdatedAt = f.now()
	f.replace(func(s *Snapshot) { *s = next })
	return nil
}

// HandleChange refetches the table a change notification names. It does
// nothing while offline.
func (f *Facade) HandleChange(ctx context.Context, n models.Notification) {
	if !f.online.Online() {
		return
	}
	f.refetch(ctx, n.Table)
}

// refetch replaces one list with the server's copy. Errors are logged;
// the next change or refresh corrects the snapshot.
func (f *Facade) refetch(ctx context.Context, table string) {
	logger := f.logger.WithField("table", table)

	switch table {
	case models.TableVisits:
		visits, err := f.backend.ListVisits(ctx)
		if err != nil {
			logger.WithError(err).Warn("Refetch failed")
			return
		}
		f.replace(func(s *Snapshot) { s.Visits = visits })
	case models.TableActiveSessions:
		sessions, err := f.backend.ListActiveSessions(ctx)
		if err != nil {
			logger.WithError(err).Warn("Refetch failed")
			return
		}
		f.replace(func(s *Snapshot) { s.Sessions = sessions })
	default:
		logger.Debug("Ignoring change for untracked table")
	}
}

func (f *Facade) recordDirect(ctx context.Context, w syncsvc.DirectWrite) {
	if f.recorder == nil {
		return
	}
	if err := f.recorder.RecordDirect(ctx, w); err != nil {
		f.logger.WithError(err).WithField("record_id", w.RecordID).Error("Could not record direct write")
	}
}

func (f *Facade) refreshPending(ctx context.Context) {
	if f.pending == nil {
		return
	}
	if _, err := f.pending.Refresh(ctx); err != nil {
		f.logger.WithError(err).Warn("Could not refresh pending count")
	}
}

// replace applies mutate under the lock and publishes the result.
func (f *Facade) replace(mutate func(*Snapshot)) {
	f.mu.Lock()
	mutate(&f.snap)
	f.snap.UpdatedAt = f.now()
	f.version++
	published := f.snap.clone()
	f.mu.Unlock()

	f.bus.Publish(published)
}

func withoutSession(sessions []models.ActiveSession, workerID, apartmentID string) []models.ActiveSession {
	out := make([]models.ActiveSession, 0, len(sessions))
	for _, s := range sessions {
		if s.WorkerID == workerID && s.ApartmentID == apartmentID {
			continue
		}
		out = append(out, s)
	}
	return out
}
