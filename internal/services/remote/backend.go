// Package remote exposes the hosted backend as typed operations over either
// a PostgREST-style HTTP API or a direct Postgres connection.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/TheMichaelB/visitsync/internal/models"
)

// Op names used in errors and history details.
const (
	OpPing              = "ping"
	OpInsertVisit       = "insert visit"
	OpStartSession      = "start session"
	OpEndSession        = "end session"
	OpListVisits        = "list visits"
	OpListSessions      = "list active sessions"
	OpListWorkers       = "list workers"
	OpListBuildings     = "list buildings"
	OpListApartments    = "list apartments"
	OpListen            = "listen"
	sessionConflictCols = "worker_id,apartment_id"
)

// ErrFeedUnavailable means the backend has no change feed configured.
var ErrFeedUnavailable = errors.New("change feed unavailable")

// FeedTables are the tables whose changes the façade follows.
var FeedTables = []string{models.TableVisits, models.TableActiveSessions}

// Backend is the remote side of the sync layer. Write errors match
// models.ErrRemoteWriteRejected or models.ErrRemoteUnreachable.
type Backend interface {
	// Ping is the startup reachability probe.
	Ping(ctx context.Context) error

	// InsertVisit inserts v keyed by v.ID. An existing row with the same id
	// is left untouched and the call succeeds.
	InsertVisit(ctx context.Context, v models.Visit) error

	// StartSession upserts the (worker, apartment) row as active.
	StartSession(ctx context.Context, workerID, apartmentID string, at time.Time) error

	// EndSession marks the active (worker, apartment) row completed. No
	// matching active row is not an error.
	EndSession(ctx context.Context, workerID, apartmentID string, at time.Time) error

	ListVisits(ctx context.Context) ([]models.Visit, error)
	ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error)
	ListWorkers(ctx context.Context) ([]models.Worker, error)
	ListBuildings(ctx context.Context) ([]models.Building, error)
	ListApartments(ctx context.Context) ([]models.Apartment, error)

	// Listen follows remote changes until ctx ends. Besides change and
	// sync_request notifications it reports connected and disconnected.
	Listen(ctx context.Context) (<-chan models.Notification, error)

	Close() error
}

// visitRow is the insert payload; an empty worker is sent as null.
type visitRow struct {
	ID             string             `json:"id"`
	ApartmentID    string             `json:"apartment_id"`
	WorkerID       *string            `json:"worker_id"`
	VisitDate      time.Time          `json:"visit_date"`
	Status         models.VisitStatus `json:"status"`
	Notes          *string            `json:"notes"`
	TasksCompleted []string           `json:"tasks_completed"`
}

func newVisitRow(v models.Visit) visitRow {
	row := visitRow{
		ID:             v.ID,
		ApartmentID:    v.ApartmentID,
		VisitDate:      v.VisitDate.UTC(),
		Status:         v.Status,
		Notes:          v.Notes,
		TasksCompleted: v.TasksCompleted,
	}
	if v.WorkerID != "" {
		w := v.WorkerID
		row.WorkerID = &w
	}
	if row.TasksCompleted == nil {
		row.TasksCompleted = []string{}
	}
	return row
}

type sessionRow struct {
	WorkerID    string               `json:"worker_id"`
	ApartmentID string               `json:"apartment_id"`
	Status      models.SessionStatus `json:"status"`
	StartedAt   time.Time            `json:"started_at"`
	EndedAt     *time.Time           `json:"ended_at"`
}

type sessionEnd struct {
	Status  models.SessionStatus `json:"status"`
	EndedAt time.Time            `json:"ended_at"`
}
