// Package api serves the local status API of the daemon.
//
//	GET  /api/v1/health
//	GET  /api/v1/sync/pending
//	GET  /api/v1/sync/history?limit=
//	GET  /api/v1/sync/stats
//	POST /api/v1/sync
//	PUT  /api/v1/connectivity
//	GET  /api/v1/snapshot
package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/TheMichaelB/visitsync/internal/connectivity"
	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/queue"
	"github.com/TheMichaelB/visitsync/internal/services/live"
	syncsvc "github.com/TheMichaelB/visitsync/internal/services/sync"
)

// Drainer runs and reports drains.
type Drainer interface {
	Drain(ctx context.Context) (syncsvc.DrainResult, error)
	Draining() bool
	LastResult() (syncsvc.DrainResult, bool)
}

// ConnectivityControl accepts manual online/offline triggers.
type ConnectivityControl interface {
	HandleOnline(ctx context.Context)
	HandleOffline()
	State() *connectivity.State
}

// SnapshotSource exposes the live snapshot.
type SnapshotSource interface {
	Snapshot() live.Snapshot
}

// Deps are the services the API reads and triggers.
type Deps struct {
	Store        queue.Store
	Drainer      Drainer
	Connectivity ConnectivityControl
	Snapshot     SnapshotSource
	HistoryLimit int
}

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

// New creates the router with every operation registered.
func New(deps Deps, logger *events.Logger) *chi.Mux {
	mux := chi.NewMux()
	Register(humachi.New(mux, huma.DefaultConfig("visitsync local API", Version)), deps, logger)
	return mux
}

// Register adds every operation to api.
func Register(api huma.API, deps Deps, logger *events.Logger) {
	logger = logger.WithField("component", "api")
	middlewares := huma.Middlewares{requestLogger(logger)}

	h := &Handler{
		deps:       deps,
		logger:     logger,
		middleware: middlewares,
	}
	h.SetupRoutes(api)
}
