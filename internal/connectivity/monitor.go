package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	syncsvc "github.com/TheMichaelB/visitsync/internal/services/sync"
)

// Drainer runs a drain.
type Drainer interface {
	Drain(ctx context.Context) (syncsvc.DrainResult, error)
}

// Pinger is the startup reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor owns the online flag and reacts to online, offline and
// sync-request signals. It never polls.
type Monitor struct {
	state   *State
	drainer Drainer
	logger  *events.Logger

	wg sync.WaitGroup
}

// NewMonitor creates a monitor.
func NewMonitor(state *State, drainer Drainer, logger *events.Logger) *Monitor {
	return &Monitor{
		state:   state,
		drainer: drainer,
		logger:  logger.WithField("component", "connectivity"),
	}
}

// State returns the shared flag.
func (m *Monitor) State() *State {
	return m.state
}

// Seed sets the initial value from a single probe. It does not drain.
func (m *Monitor) Seed(ctx context.Context, p Pinger, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := p.Ping(ctx)
	online := err == nil
	m.state.Set(online)

	if err != nil {
		m.logger.WithError(err).Info("Backend unreachable at startup; starting offline")
	} else {
		m.logger.Info("Backend reachable at startup")
	}
	return online
}

// HandleOnline marks the process online and starts a drain.
func (m *Monitor) HandleOnline(ctx context.Context) {
	if m.state.Set(true) {
		m.logger.Info("Connectivity restored")
	}
	m.startDrain(ctx, "online")
}

// HandleOffline marks the process offline.
func (m *Monitor) HandleOffline() {
	if m.state.Set(false) {
		m.logger.Warn("Connectivity lost")
	}
}

// HandleSyncRequest starts a drain if online. It does not change the flag.
func (m *Monitor) HandleSyncRequest(ctx context.Context) {
	if !m.state.Online() {
		m.logger.Debug("Sync request ignored while offline")
		return
	}
	m.startDrain(ctx, "sync_request")
}

// Follow consumes a backend feed until it closes. Change notifications are
// passed to onChange, which may be nil.
func (m *Monitor) Follow(ctx context.Context, feed <-chan models.Notification, onChange func(context.Context, models.Notification)) {
	for n := range feed {
		switch n.Kind {
		case models.NotifyConnected:
			m.HandleOnline(ctx)
		case models.NotifyDisconnected:
			m.HandleOffline()
		case models.NotifySyncRequest:
			m.logger.WithField("reason", n.Reason).Debug("Backend requested sync")
			m.HandleSyncRequest(ctx)
		case models.NotifyChange:
			if onChange != nil {
				onChange(ctx, n)
			}
		}
	}
}

// Wait blocks until every drain started by the monitor has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) startDrain(ctx context.Context, trigger string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		result, err := m.drainer.Drain(ctx)
		logger := m.logger.WithField("trigger", trigger)
		if err != nil {
			logger.WithError(err).Error("Drain failed")
			return
		}
		if result.Skipped != syncsvc.SkipNone {
			logger.WithField("reason", result.Skipped).Debug("Drain skipped")
		}
	}()
}
