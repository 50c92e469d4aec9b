package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/migrations"
	"github.com/TheMichaelB/visitsync/internal/models"
)

// PostgresBackend talks to the backend database directly.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *events.Logger

	listenBackoff time.Duration
	listenMax     time.Duration
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend opens a pool. The schema is installed separately by
// migrations.Runner.
func NewPostgresBackend(ctx context.Context, databaseURL string, logger *events.Logger) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &PostgresBackend{
		pool:          pool,
		logger:        logger.WithField("service", "remote"),
		listenBackoff: time.Second,
		listenMax:     30 * time.Second,
	}, nil
}

// Ping probes the database.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return models.Unreachable(OpPing, err)
	}
	return nil
}

// InsertVisit inserts v, ignoring an existing row with the same id.
func (b *PostgresBackend) InsertVisit(ctx context.Context, v models.Visit) error {
	row := newVisitRow(v)
	_, err := b.pool.Exec(ctx, `
		INSERT INTO visits (id, apartment_id, worker_id, visit_date, status, notes, tasks_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		row.ID, row.ApartmentID, row.WorkerID, row.VisitDate, string(row.Status), row.Notes, row.TasksCompleted,
	)
	if err != nil {
		return classify(OpInsertVisit, err)
	}
	return nil
}

// StartSession upserts the active session row.
func (b *PostgresBackend) StartSession(ctx context.Context, workerID, apartmentID string, at time.Time) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO active_sessions (worker_id, apartment_id, status, started_at, ended_at)
		VALUES ($1, $2, 'active', $3, NULL)
		ON CONFLICT (worker_id, apartment_id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ended_at = NULL`,
		workerID, apartmentID, at.UTC(),
	)
	if err != nil {
		return classify(OpStartSession, err)
	}
	return nil
}

// EndSession completes the active session row, if there is one.
func (b *PostgresBackend) EndSession(ctx context.Context, workerID, apartmentID string, at time.Time) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE active_sessions
		SET status = 'completed', ended_at = $3
		WHERE worker_id = $1 AND apartment_id = $2 AND status = 'active'`,
		workerID, apartmentID, at.UTC(),
	)
	if err != nil {
		return classify(OpEndSession, err)
	}
	if tag.RowsAffected() == 0 {
		b.logger.WithFields(map[string]interface{}{
			"worker_id":    workerID,
			"apartment_id": apartmentID,
		}).Debug("No active session to end")
	}
	return nil
}

// ListVisits returns visits, newest first.
func (b *PostgresBackend) ListVisits(ctx context.Context) ([]models.Visit, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, apartment_id, COALESCE(worker_id, ''), visit_date, status, notes, tasks_completed, created_at
		FROM visits
		ORDER BY visit_date DESC`)
	if err != nil {
		return nil, classify(OpListVisits, err)
	}
	defer rows.Close()

	visits := []models.Visit{}
	for rows.Next() {
		var v models.Visit
		var status string
		if err := rows.Scan(&v.ID, &v.ApartmentID, &v.WorkerID, &v.VisitDate, &status,
			&v.Notes, &v.TasksCompleted, &v.CreatedAt); err != nil {
			return nil, classify(OpListVisits, err)
		}
		v.Status = models.VisitStatus(status)
		if v.TasksCompleted == nil {
			v.TasksCompleted = []string{}
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(OpListVisits, err)
	}
	return visits, nil
}

// ListActiveSessions returns sessions whose status is active.
func (b *PostgresBackend) ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT worker_id, apartment_id, status, started_at, ended_at
		FROM active_sessions
		WHERE status = 'active'
		ORDER BY started_at DESC`)
	if err != nil {
		return nil, classify(OpListSessions, err)
	}
	defer rows.Close()

	sessions := []models.ActiveSession{}
	for rows.Next() {
		var s models.ActiveSession
		var status string
		if err := rows.Scan(&s.WorkerID, &s.ApartmentID, &status, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, classify(OpListSessions, err)
		}
		s.Status = models.SessionStatus(status)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(OpListSessions, err)
	}
	return sessions, nil
}

// ListWorkers returns all workers by name.
func (b *PostgresBackend) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	rows, err := b.pool.Query(ctx, `SELECT id, name, phone, active FROM workers ORDER BY name`)
	if err != nil {
		return nil, classify(OpListWorkers, err)
	}
	workers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Worker, error) {
		var w models.Worker
		err := row.Scan(&w.ID, &w.Name, &w.Phone, &w.Active)
		return w, err
	})
	if err != nil {
		return nil, classify(OpListWorkers, err)
	}
	return workers, nil
}

// ListBuildings returns all buildings by name.
func (b *PostgresBackend) ListBuildings(ctx context.Context) ([]models.Building, error) {
	rows, err := b.pool.Query(ctx, `SELECT id, name, address FROM buildings ORDER BY name`)
	if err != nil {
		return nil, classify(OpListBuildings, err)
	}
	buildings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Building, error) {
		var bl models.Building
		err := row.Scan(&bl.ID, &bl.Name, &bl.Address)
		return bl, err
	})
	if err != nil {
		return nil, classify(OpListBuildings, err)
	}
	return buildings, nil
}

// ListApartments returns all apartments by building and number.
func (b *PostgresBackend) ListApartments(ctx context.Context) ([]models.Apartment, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, building_id, number, floor
		FROM apartments
		ORDER BY building_id, number`)
	if err != nil {
		return nil, classify(OpListApartments, err)
	}
	apartments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Apartment, error) {
		var a models.Apartment
		err := row.Scan(&a.ID, &a.BuildingID, &a.Number, &a.Floor)
		return a, err
	})
	if err != nil {
		return nil, classify(OpListApartments, err)
	}
	return apartments, nil
}

// Listen follows LISTEN/NOTIFY on the change channel, reconnecting until
// ctx ends.
func (b *PostgresBackend) Listen(ctx context.Context) (<-chan models.Notification, error) {
	out := make(chan models.Notification, 64)
	go b.listenLoop(ctx, out)
	return out, nil
}

func (b *PostgresBackend) listenLoop(ctx context.Context, out chan<- models.Notification) {
	defer close(out)

	delay := b.listenBackoff
	var online *bool
	setState := func(up bool) {
		if online != nil && *online == up {
			return
		}
		online = &up
		kind := models.NotifyDisconnected
		if up {
			kind = models.NotifyConnected
		}
		select {
		case out <- models.Notification{Kind: kind, ReceivedAt: time.Now()}:
		case <-ctx.Done():
		}
	}

	for {
		err := b.listenOnce(ctx, out, func() {
			delay = b.listenBackoff
			setState(true)
		})
		if ctx.Err() != nil {
			return
		}
		b.logger.WithError(err).Warn("Change listener lost connection")
		setState(false)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > b.listenMax {
			delay = b.listenMax
		}
	}
}

func (b *PostgresBackend) listenOnce(ctx context.Context, out chan<- models.Notification, onListening func()) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+migrations.NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	onListening()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		msg, err := models.ParseRealtimeMessage([]byte(n.Payload))
		if err != nil {
			b.logger.WithError(err).Warn("Ignoring malformed change payload")
			continue
		}
		note, ok := msg.Notification(time.Now())
		if !ok {
			continue
		}

		select {
		case out <- note:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// classify maps a database error to a remote error kind. Server-side
// errors are rejections; everything else means the database was not
// reached.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return models.Rejected(op, 0, &models.APIError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Details: pgErr.Detail,
			Hint:    pgErr.Hint,
		})
	}
	return models.Unreachable(op, err)
}
