package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/transport"
)

// RESTBackend talks to a PostgREST-style API.
type RESTBackend struct {
	transport transport.Transport
	logger    *events.Logger
}

var _ Backend = (*RESTBackend)(nil)

// NewRESTBackend creates a backend over t.
func NewRESTBackend(t transport.Transport, logger *events.Logger) *RESTBackend {
	return &RESTBackend{
		transport: t,
		logger:    logger.WithField("service", "remote"),
	}
}

// Ping probes the API.
func (b *RESTBackend) Ping(ctx context.Context) error {
	return b.transport.Ping(ctx)
}

// InsertVisit inserts v, ignoring an existing row with the same id.
func (b *RESTBackend) InsertVisit(ctx context.Context, v models.Visit) error {
	if err := b.transport.Insert(ctx, OpInsertVisit, models.TableVisits, newVisitRow(v)); err != nil {
		return err
	}

	b.logger.WithFields(map[string]interface{}{
		"visit_id":     v.ID,
		"apartment_id": v.ApartmentID,
	}).Debug("Visit inserted")
	return nil
}

// StartSession upserts the active session row.
func (b *RESTBackend) StartSession(ctx context.Context, workerID, apartmentID string, at time.Time) error {
	row := sessionRow{
		WorkerID:    workerID,
		ApartmentID: apartmentID,
		Status:      models.SessionActive,
		StartedAt:   at.UTC(),
	}
	return b.transport.Upsert(ctx, OpStartSession, models.TableActiveSessions, row, sessionConflictCols)
}

// EndSession completes the active session row, if there is one.
func (b *RESTBackend) EndSession(ctx context.Context, workerID, apartmentID string, at time.Time) error {
	filter := url.Values{
		"worker_id":    {transport.Eq(workerID)},
		"apartment_id": {transport.Eq(apartmentID)},
		"status":       {transport.Eq(string(models.SessionActive))},
	}

	matched, err := b.transport.Update(ctx, OpEndSession, models.TableActiveSessions, filter,
		sessionEnd{Status: models.SessionCompleted, EndedAt: at.UTC()})
	if err != nil {
		return err
	}

	if matched == 0 {
		b.logger.WithFields(map[string]interface{}{
			"worker_id":    workerID,
			"apartment_id": apartmentID,
		}).Debug("No active session to end")
	}
	return nil
}

// ListVisits returns visits, newest first.
func (b *RESTBackend) ListVisits(ctx context.Context) ([]models.Visit, error) {
	var rows []models.Visit
	q := url.Values{"order": {"visit_date.desc"}}
	if err := b.transport.Select(ctx, OpListVisits, models.TableVisits, q, &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].TasksCompleted == nil {
			rows[i].TasksCompleted = []string{}
		}
	}
	return rows, nil
}

// ListActiveSessions returns sessions whose status is active.
func (b *RESTBackend) ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	var rows []models.ActiveSession
	q := url.Values{
		"status": {transport.Eq(string(models.SessionActive))},
		"order":  {"started_at.desc"},
	}
	if err := b.transport.Select(ctx, OpListSessions, models.TableActiveSessions, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListWorkers returns all workers by name.
func (b *RESTBackend) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	var rows []models.Worker
	q := url.Values{"order": {"name.asc"}}
	if err := b.transport.Select(ctx, OpListWorkers, models.TableWorkers, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBuildings returns all buildings by name.
func (b *RESTBackend) ListBuildings(ctx context.Context) ([]models.Building, error) {
	var rows []models.Building
	q := url.Values{"order": {"name.asc"}}
	if err := b.transport.Select(ctx, OpListBuildings, models.TableBuildings, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListApartments returns all apartments by building and number.
func (b *RESTBackend) ListApartments(ctx context.Context) ([]models.Apartment, error) {
	var rows []models.Apartment
	q := url.Values{"order": {"building_id.asc,number.asc"}}
	if err := b.transport.Select(ctx, OpListApartments, models.TableApartments, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Listen follows the realtime feed for FeedTables.
func (b *RESTBackend) Listen(ctx context.Context) (<-chan models.Notification, error) {
	feed, err := b.transport.Realtime(ctx, FeedTables)
	if err != nil {
		if errors.Is(err, transport.ErrRealtimeDisabled) {
			return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
		}
		return nil, fmt.Errorf("%s: %w", OpListen, err)
	}
	return feed, nil
}

// Close releases the transport.
func (b *RESTBackend) Close() error {
	return b.transport.Close()
}
