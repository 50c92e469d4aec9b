package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/TheMichaelB/visitsync/internal/api"
	"github.com/TheMichaelB/visitsync/internal/connectivity"
	"github.com/TheMichaelB/visitsync/internal/services/remote"
)

// Run is the daemon loop. It seeds connectivity, follows the backend feed,
// watches the trigger file and the sync signal, serves the local API and
// refreshes the pending count until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	cfg := c.config

	online := c.Connect(ctx)
	if online {
		if err := c.Facade.Refresh(ctx); err != nil {
			c.logger.WithError(err).Warn("Initial refresh failed")
		}
		if cfg.Sync.DrainOnStart {
			if _, err := c.Engine.Drain(ctx); err != nil {
				return fmt.Errorf("initial drain: %w", err)
			}
		}
	}
	if _, err := c.Engine.PruneHistory(ctx); err != nil {
		c.logger.WithError(err).Warn("History prune failed")
	}
	if _, err := c.Tracker.Refresh(ctx); err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	go c.Tracker.Run(ctx, cfg.Sync.PendingRefreshInterval)

	feed, err := c.Backend.Listen(ctx)
	switch {
	case errors.Is(err, remote.ErrFeedUnavailable):
		c.logger.Info("No change feed configured; relying on triggers")
	case err != nil:
		c.logger.WithError(err).Warn("Change feed unavailable")
	default:
		go c.Monitor.Follow(ctx, feed, c.Facade.HandleChange)
	}

	if cfg.Storage.TriggerFile != "" {
		tw := connectivity.NewTriggerWatcher(cfg.Storage.TriggerFile, func() {
			c.Monitor.HandleSyncRequest(ctx)
		}, c.logger)
		if err := tw.Start(ctx); err != nil {
			c.logger.WithError(err).Warn("Trigger file watch disabled")
		} else {
			defer tw.Stop()
		}
	}

	stopSignals := c.watchSyncSignal(ctx)
	defer stopSignals()

	var server *http.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		server = &http.Server{
			Addr: cfg.Server.ListenAddr,
			Handler: api.New(api.Deps{
				Store:        c.Store,
				Drainer:      c.Engine,
				Connectivity: c.Monitor,
				Snapshot:     c.Facade,
				HistoryLimit: cfg.Sync.HistoryLimit,
			}, c.logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			c.logger.WithField("addr", server.Addr).Info("Local API listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	c.logger.WithField("online", c.State.Online()).Info("Daemon started")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("local API: %w", err)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.logger.WithError(err).Warn("Local API shutdown")
		}
	}

	c.Monitor.Wait()
	c.logger.Info("Daemon stopped")
	return nil
}

// watchSyncSignal turns the platform sync signal into sync requests.
func (c *Client) watchSyncSignal(ctx context.Context) func() {
	sigs := make(chan os.Signal, 1)
	stop := notifySyncSignal(sigs)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-sigs:
				c.logger.Debug("Sync signal received")
				c.Monitor.HandleSyncRequest(ctx)
			}
		}
	}()

	return func() {
		stop()
		close(done)
	}
}
