package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
)

// SQLiteStore implements Store on a SQLite database in WAL mode.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
	stamp  *stamper
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the queue database at dbPath.
func NewSQLiteStore(dbPath string, logger *events.Logger, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_sync=FULL")
	if err != nil {
		return nil, models.NewStorageError("open database", err)
	}
	// One connection serializes writers and keeps stamps in commit order.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_queue"),
		stamp:  newStamper(o.now),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, models.NewStorageError("initialize database", err)
	}

	return store, nil
}

// initialize creates tables and indexes and seeds the stamper.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS pending_visits (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        apartment_id TEXT NOT NULL,
        worker_id TEXT NOT NULL,
        visit_date INTEGER NOT NULL,
        status TEXT NOT NULL,
        notes TEXT,
        tasks_completed TEXT NOT NULL DEFAULT '[]',
        enqueued_at INTEGER NOT NULL,
        synced INTEGER NOT NULL DEFAULT 0
    );

    CREATE INDEX IF NOT EXISTS idx_pending_visits_synced ON pending_visits(synced, seq);

    CREATE TABLE IF NOT EXISTS pending_sessions (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        worker_id TEXT NOT NULL,
        apartment_id TEXT NOT NULL,
        action TEXT NOT NULL,
        enqueued_at INTEGER NOT NULL,
        synced INTEGER NOT NULL DEFAULT 0
    );

    CREATE INDEX IF NOT EXISTS idx_pending_sessions_synced ON pending_sessions(synced, seq);

    CREATE TABLE IF NOT EXISTS sync_history (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL,
        timestamp INTEGER NOT NULL,
        record_type TEXT NOT NULL,
        outcome TEXT NOT NULL,
        referenced_id TEXT NOT NULL,
        details TEXT NOT NULL DEFAULT '{}'
    );

    CREATE INDEX IF NOT EXISTS idx_sync_history_timestamp ON sync_history(timestamp, seq);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var last sql.NullInt64
	err := s.db.QueryRow(`
        SELECT MAX(t) FROM (
            SELECT MAX(enqueued_at) AS t FROM pending_visits
            UNION ALL SELECT MAX(enqueued_at) FROM pending_sessions
            UNION ALL SELECT MAX(timestamp) FROM sync_history
        )
    `).Scan(&last)
	if err != nil {
		return fmt.Errorf("read last stamp: %w", err)
	}
	if last.Valid {
		s.stamp.observe(time.Unix(0, last.Int64))
	}

	return nil
}

// EnqueueVisit persists a pending visit.
func (s *SQLiteStore) EnqueueVisit(ctx context.Context, v models.PendingVisit) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}
	if v.ID == "" {
		v.ID = newID()
	}
	if v.TasksCompleted == nil {
		v.TasksCompleted = []string{}
	}

	tasks, err := json.Marshal(v.TasksCompleted)
	if err != nil {
		return "", models.NewStorageError(OpEnqueueVisit, err)
	}

	var notes sql.NullString
	if v.Notes != nil {
		notes = sql.NullString{String: *v.Notes, Valid: true}
	}

	enqueuedAt := s.stamp.next()
	if v.VisitDate.IsZero() {
		v.VisitDate = enqueuedAt
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO pending_visits
            (id, apartment_id, worker_id, visit_date, status, notes, tasks_completed, enqueued_at, synced)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
    `, v.ID, v.ApartmentID, v.WorkerID, v.VisitDate.UTC().UnixNano(), string(v.Status), notes, string(tasks), enqueuedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: visit %s", models.ErrDuplicateRecord, v.ID)
		}
		return "", models.NewStorageError(OpEnqueueVisit, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"visit_id":     v.ID,
		"apartment_id": v.ApartmentID,
	}).Debug("Enqueued visit")

	return v.ID, nil
}

// EnqueueSession persists a pending session transition.
func (s *SQLiteStore) EnqueueSession(ctx context.Context, p models.PendingSession) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if p.ID == "" {
		p.ID = newID()
	}

	enqueuedAt := s.stamp.next()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO pending_sessions (id, worker_id, apartment_id, action, enqueued_at, synced)
        VALUES (?, ?, ?, ?, ?, 0)
    `, p.ID, p.WorkerID, p.ApartmentID, string(p.Action), enqueuedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: session %s", models.ErrDuplicateRecord, p.ID)
		}
		return "", models.NewStorageError(OpEnqueueSession, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"session_id": p.ID,
		"action":     p.Action,
	}).Debug("Enqueued session")

	return p.ID, nil
}

// ListPendingVisits returns unsynced visits in insertion order.
func (s *SQLiteStore) ListPendingVisits(ctx context.Context) ([]models.PendingVisit, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, apartment_id, worker_id, visit_date, status, notes, tasks_completed, enqueued_at
        FROM pending_visits
        WHERE synced = 0
        ORDER BY seq
    `)
	if err != nil {
		return nil, models.NewStorageError(OpListPendingVisits, err)
	}
	defer rows.Close()

	visits := []models.PendingVisit{}
	for rows.Next() {
		var (
			v          models.PendingVisit
			status     string
			notes      sql.NullString
			tasks      string
			visitDate  int64
			enqueuedAt int64
		)
		if err := rows.Scan(&v.ID, &v.ApartmentID, &v.WorkerID, &visitDate, &status, &notes, &tasks, &enqueuedAt); err != nil {
			return nil, models.NewStorageError(OpListPendingVisits, err)
		}
		if err := json.Unmarshal([]byte(tasks), &v.TasksCompleted); err != nil {
			return nil, models.NewStorageError(OpListPendingVisits, fmt.Errorf("decode tasks for %s: %w", v.ID, err))
		}
		if notes.Valid {
			n := notes.String
			v.Notes = &n
		}
		v.Status = models.VisitStatus(status)
		v.VisitDate = time.Unix(0, visitDate).UTC()
		v.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		visits = append(visits, v)
	}

	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError(OpListPendingVisits, err)
	}

	return visits, nil
}

// ListPendingSessions returns unsynced sessions in insertion order.
func (s *SQLiteStore) ListPendingSessions(ctx context.Context) ([]models.PendingSession, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, worker_id, apartment_id, action, enqueued_at
        FROM pending_sessions
        WHERE synced = 0
        ORDER BY seq
    `)
	if err != nil {
		return nil, models.NewStorageError(OpListPendingSessions, err)
	}
	defer rows.Close()

	sessions := []models.PendingSession{}
	for rows.Next() {
		var (
			p          models.PendingSession
			action     string
			enqueuedAt int64
		)
		if err := rows.Scan(&p.ID, &p.WorkerID, &p.ApartmentID, &action, &enqueuedAt); err != nil {
			return nil, models.NewStorageError(OpListPendingSessions, err)
		}
		p.Action = models.SessionAction(action)
		p.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		sessions = append(sessions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError(OpListPendingSessions, err)
	}

	return sessions, nil
}

// MarkVisitSynced flips synced once; repeated calls match no rows.
func (s *SQLiteStore) MarkVisitSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE pending_visits SET synced = 1 WHERE id = ? AND synced = 0", id); err != nil {
		return models.NewStorageError(OpMarkVisitSynced, err)
	}
	return nil
}

// MarkSessionSynced flips synced once; repeated calls match no rows.
func (s *SQLiteStore) MarkSessionSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE pending_sessions SET synced = 1 WHERE id = ? AND synced = 0", id); err != nil {
		return models.NewStorageError(OpMarkSessionSynced, err)
	}
	return nil
}

// PurgeSynced deletes synced rows from both collections in one transaction.
func (s *SQLiteStore) PurgeSynced(ctx context.Context) (models.PurgeResult, error) {
	var result models.PurgeResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, models.NewStorageError(OpPurgeSynced, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM pending_visits WHERE synced = 1")
	if err != nil {
		return result, models.NewStorageError(OpPurgeSynced, err)
	}
	visits, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, "DELETE FROM pending_sessions WHERE synced = 1")
	if err != nil {
		return result, models.NewStorageError(OpPurgeSynced, err)
	}
	sessions, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return result, models.NewStorageError(OpPurgeSynced, err)
	}

	result.Visits = int(visits)
	result.Sessions = int(sessions)

	s.logger.WithFields(map[string]interface{}{
		"visits":   result.Visits,
		"sessions": result.Sessions,
	}).Debug("Purged synced records")

	return result, nil
}

// AppendHistory appends an audit entry.
func (s *SQLiteStore) AppendHistory(ctx context.Context, e models.HistoryEntry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.stamp.next()
	} else {
		s.stamp.observe(e.Timestamp)
	}

	details, err := json.Marshal(e.Details)
	if err != nil {
		return models.NewStorageError(OpAppendHistory, err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO sync_history (id, timestamp, record_type, outcome, referenced_id, details)
        VALUES (?, ?, ?, ?, ?, ?)
    `, e.ID, e.Timestamp.UTC().UnixNano(), string(e.RecordType), string(e.Outcome), e.ReferencedID, string(details))
	if err != nil {
		return models.NewStorageError(OpAppendHistory, err)
	}

	return nil
}

// QueryHistory returns the most recent entries first.
func (s *SQLiteStore) QueryHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, timestamp, record_type, outcome, referenced_id, details
        FROM sync_history
        ORDER BY timestamp DESC, seq DESC
        LIMIT ?
    `, historyLimit(limit))
	if err != nil {
		return nil, models.NewStorageError(OpQueryHistory, err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			e          models.HistoryEntry
			ts         int64
			recordType string
			outcome    string
			details    string
		)
		if err := rows.Scan(&e.ID, &ts, &recordType, &outcome, &e.ReferencedID, &details); err != nil {
			return nil, models.NewStorageError(OpQueryHistory, err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, models.NewStorageError(OpQueryHistory, fmt.Errorf("decode details for %s: %w", e.ID, err))
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.RecordType = models.RecordType(recordType)
		e.Outcome = models.Outcome(outcome)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError(OpQueryHistory, err)
	}

	return entries, nil
}

// AggregateStats counts history outcomes.
func (s *SQLiteStore) AggregateStats(ctx context.Context) (models.SyncStats, error) {
	var stats models.SyncStats

	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM sync_history GROUP BY outcome")
	if err != nil {
		return stats, models.NewStorageError(OpAggregateStats, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return stats, models.NewStorageError(OpAggregateStats, err)
		}
		stats.Total += n
		switch models.Outcome(outcome) {
		case models.OutcomeSuccess:
			stats.Succeeded += n
		case models.OutcomeFailed:
			stats.Failed += n
		case models.OutcomeConflict:
			stats.Conflicts += n
		}
	}

	if err := rows.Err(); err != nil {
		return stats, models.NewStorageError(OpAggregateStats, err)
	}

	return stats, nil
}

// CountPending counts unsynced records in both collections.
func (s *SQLiteStore) CountPending(ctx context.Context) (models.PendingCount, error) {
	var count models.PendingCount

	err := s.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM pending_visits WHERE synced = 0),
            (SELECT COUNT(*) FROM pending_sessions WHERE synced = 0)
    `).Scan(&count.Visits, &count.Sessions)
	if err != nil {
		return count, models.NewStorageError(OpCountPending, err)
	}

	return count, nil
}

// OldestPending reports the enqueue time of the oldest unsynced record.
func (s *SQLiteStore) OldestPending(ctx context.Context) (models.QueueAge, error) {
	var oldest sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
        SELECT MIN(t) FROM (
            SELECT MIN(enqueued_at) AS t FROM pending_visits WHERE synced = 0
            UNION ALL SELECT MIN(enqueued_at) FROM pending_sessions WHERE synced = 0
        )
    `).Scan(&oldest)
	if err != nil {
		return models.QueueAge{}, models.NewStorageError(OpOldestPending, err)
	}

	if !oldest.Valid {
		return models.QueueAge{Empty: true}, nil
	}
	return models.QueueAge{Oldest: time.Unix(0, oldest.Int64).UTC()}, nil
}

// PruneHistory deletes entries older than before.
func (s *SQLiteStore) PruneHistory(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sync_history WHERE timestamp < ?", before.UTC().UnixNano())
	if err != nil {
		return 0, models.NewStorageError(OpPruneHistory, err)
	}
	n, _ := res.RowsAffected()

	if n > 0 {
		s.logger.WithField("deleted", n).Info("Pruned sync history")
	}

	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
