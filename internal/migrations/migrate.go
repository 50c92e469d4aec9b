// Package migrations installs the remote Postgres schema used by the
// postgres backend: entity tables plus the change-notify triggers.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/TheMichaelB/visitsync/internal/events"
)

//go:embed sql/*.sql
var files embed.FS

// NotifyChannel is the LISTEN channel fed by the change triggers.
const NotifyChannel = "visitsync_changes"

// Migrator is the subset of migrate.Migrate the runner needs.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Close() (error, error)
}

// Engine builds a Migrator for a database URL.
type Engine func(databaseURL string) (Migrator, error)

// DefaultEngine reads the embedded SQL files.
func DefaultEngine(databaseURL string) (Migrator, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, DriverURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("open migration target: %w", err)
	}
	return m, nil
}

// DriverURL rewrites a postgres:// URL to the pgx5:// scheme migrate expects.
func DriverURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// Runner applies migrations.
type Runner struct {
	databaseURL string
	engine      Engine
	logger      *events.Logger
}

// NewRunner creates a runner. A nil engine uses DefaultEngine.
func NewRunner(databaseURL string, engine Engine, logger *events.Logger) *Runner {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Runner{
		databaseURL: databaseURL,
		engine:      engine,
		logger:      logger.WithField("component", "migrations"),
	}
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (r *Runner) Up() (err error) {
	return r.run("up", func(m Migrator) error { return m.Up() })
}

// Down reverts every migration.
func (r *Runner) Down() (err error) {
	return r.run("down", func(m Migrator) error { return m.Down() })
}

// Version reports the applied schema version.
func (r *Runner) Version() (version uint, dirty bool, err error) {
	err = r.run("version", func(m Migrator) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		return verr
	})
	return version, dirty, err
}

func (r *Runner) run(name string, fn func(Migrator) error) (err error) {
	m, err := r.engine(r.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()

	if err := fn(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.logger.WithField("direction", name).Debug("Schema already current")
			return nil
		}
		return fmt.Errorf("migrate %s: %w", name, err)
	}

	r.logger.WithField("direction", name).Info("Migrations applied")
	return nil
}
