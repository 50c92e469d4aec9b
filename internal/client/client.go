package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/visitsync/internal/config"
	"github.com/TheMichaelB/visitsync/internal/connectivity"
	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/migrations"
	"github.com/TheMichaelB/visitsync/internal/queue"
	"github.com/TheMichaelB/visitsync/internal/services/live"
	"github.com/TheMichaelB/visitsync/internal/services/remote"
	"github.com/TheMichaelB/visitsync/internal/services/status"
	"github.com/TheMichaelB/visitsync/internal/services/sync"
	"github.com/TheMichaelB/visitsync/internal/transport"
	"github.com/TheMichaelB/visitsync/internal/workerctx"
)

// Client wires the sync layer together.
type Client struct {
	Store   queue.Store
	Backend remote.Backend
	State   *connectivity.State
	Tracker *status.Tracker
	Engine  *sync.Engine
	Monitor *connectivity.Monitor
	Facade  *live.Facade
	Worker  *workerctx.Context

	config *config.Config
	logger *events.Logger
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	store   queue.Store
	backend remote.Backend
}

// WithStore uses s instead of opening the SQLite queue.
func WithStore(s queue.Store) Option {
	return func(o *options) { o.store = s }
}

// WithBackend uses b instead of building one from config.
func WithBackend(b remote.Backend) Option {
	return func(o *options) { o.backend = b }
}

// New creates a client. Connectivity starts offline until Connect.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		s, err := queue.NewSQLiteStore(cfg.Storage.QueuePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open queue: %w", err)
		}
		store = s
	}

	backend := o.backend
	if backend == nil {
		b, err := NewBackend(ctx, cfg, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		backend = b
	}

	worker, err := workerctx.New(cfg.Storage.WorkerFile, logger)
	if err != nil {
		store.Close()
		backend.Close()
		return nil, err
	}
	if err := worker.Load(); err != nil {
		logger.WithError(err).Warn("Ignoring unreadable worker context")
	}

	state := connectivity.NewState(false)
	tracker := status.NewTracker(store, logger)
	engine := sync.NewEngine(store, backend, state, tracker, &sync.Config{
		HistoryRetention: cfg.Sync.HistoryRetention,
	}, logger)
	monitor := connectivity.NewMonitor(state, engine, logger)
	facade := live.NewFacade(live.Deps{
		Backend:  backend,
		Store:    store,
		Online:   state,
		Recorder: engine,
		Pending:  tracker,
		Worker:   worker,
	}, logger)

	return &Client{
		Store:   store,
		Backend: backend,
		State:   state,
		Tracker: tracker,
		Engine:  engine,
		Monitor: monitor,
		Facade:  facade,
		Worker:  worker,
		config:  cfg,
		logger:  logger,
	}, nil
}

// NewBackend builds the configured backend. The postgres backend brings
// its schema up to date first.
func NewBackend(ctx context.Context, cfg *config.Config, logger *events.Logger) (remote.Backend, error) {
	switch cfg.API.Backend {
	case config.BackendPostgres:
		if err := migrations.NewRunner(cfg.API.DatabaseURL, nil, logger).Up(); err != nil {
			return nil, fmt.Errorf("migrate backend schema: %w", err)
		}
		return remote.NewPostgresBackend(ctx, cfg.API.DatabaseURL, logger)
	case config.BackendREST, "":
		return remote.NewRESTBackend(transport.NewTransport(&cfg.API, logger), logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.API.Backend)
	}
}

// Connect seeds the online flag from one probe.
func (c *Client) Connect(ctx context.Context) bool {
	return c.Monitor.Seed(ctx, c.Backend, c.config.Sync.ProbeTimeout)
}

// Config returns the client configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Close waits for monitor drains and releases the store and backend.
func (c *Client) Close() error {
	c.Monitor.Wait()
	return errors.Join(c.Backend.Close(), c.Store.Close())
}
