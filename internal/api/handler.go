package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	syncsvc "github.com/TheMichaelB/visitsync/internal/services/sync"
)

// Handler implements the API operations.
type Handler struct {
	deps       Deps
	logger     *events.Logger
	middleware huma.Middlewares
}

// SetupRoutes registers every operation.
func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthOp(), h.health)
	huma.Register(api, h.pendingOp(), h.pending)
	huma.Register(api, h.historyOp(), h.history)
	huma.Register(api, h.statsOp(), h.stats)
	huma.Register(api, h.syncOp(), h.sync)
	huma.Register(api, h.connectivityOp(), h.setConnectivity)
	huma.Register(api, h.snapshotOp(), h.snapshot)
}

func (h *Handler) health(_ context.Context, _ *healthInput) (*healthOutput, error) {
	return &healthOutput{
		Body: HealthResponse{
			Status:   "OK",
			Online:   h.deps.Connectivity.State().Online(),
			Draining: h.deps.Drainer.Draining(),
		},
	}, nil
}

func (h *Handler) pending(ctx context.Context, _ *pendingInput) (*pendingOutput, error) {
	count, err := h.deps.Store.CountPending(ctx)
	if err != nil {
		return nil, h.internal("count pending", err)
	}
	age, err := h.deps.Store.OldestPending(ctx)
	if err != nil {
		return nil, h.internal("oldest pending", err)
	}

	resp := PendingResponse{
		Visits:   count.Visits,
		Sessions: count.Sessions,
		Total:    count.Total(),
	}
	if !age.Empty {
		oldest := age.Oldest
		resp.OldestPending = &oldest
		resp.OldestAgeSecs = age.Age(time.Now()).Seconds()
	}
	return &pendingOutput{Body: resp}, nil
}

func (h *Handler) history(ctx context.Context, in *historyInput) (*historyOutput, error) {
	limit := in.Limit
	if limit == 0 {
		limit = h.deps.HistoryLimit
	}

	entries, err := h.deps.Store.QueryHistory(ctx, limit)
	if err != nil {
		return nil, h.internal("query history", err)
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return &historyOutput{Body: HistoryResponse{Entries: entries}}, nil
}

func (h *Handler) stats(ctx context.Context, _ *statsInput) (*statsOutput, error) {
	stats, err := h.deps.Store.AggregateStats(ctx)
	if err != nil {
		return nil, h.internal("aggregate stats", err)
	}
	return &statsOutput{Body: stats}, nil
}

func (h *Handler) sync(ctx context.Context, _ *syncInput) (*syncOutput, error) {
	result, err := h.deps.Drainer.Drain(ctx)
	if err != nil {
		return nil, h.internal("drain", err)
	}

	status := "completed"
	if result.Skipped != syncsvc.SkipNone {
		status = "skipped"
	}
	return &syncOutput{Body: SyncResponse{Status: status, Result: result}}, nil
}

func (h *Handler) setConnectivity(ctx context.Context, in *connectivityInput) (*connectivityOutput, error) {
	state := h.deps.Connectivity.State()
	before := state.Online()

	if in.Body.Online {
		h.deps.Connectivity.HandleOnline(ctx)
	} else {
		h.deps.Connectivity.HandleOffline()
	}

	after := state.Online()
	h.logger.WithField("online", after).Info("Connectivity set manually")
	return &connectivityOutput{Body: ConnectivityResponse{Online: after, Changed: before != after}}, nil
}

func (h *Handler) snapshot(_ context.Context, _ *snapshotInput) (*snapshotOutput, error) {
	return &snapshotOutput{Body: h.deps.Snapshot.Snapshot()}, nil
}

func (h *Handler) internal(op string, err error) error {
	h.logger.WithError(err).WithField("op", op).Error("Request failed")
	return huma.Error500InternalServerError(op+" failed", err)
}
