package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) healthOp() huma.Operation {
	return huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) pendingOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-pending",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/pending",
		Summary:     "Count pending records",
		Description: "Counts unsynced visits and sessions at call time",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) historyOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/history",
		Summary:     "List sync history",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) statsOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/stats",
		Summary:     "Aggregate sync history",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) syncOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-request",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync",
		Summary:     "Request a drain",
		Description: "Runs a drain if online and none is in flight, and returns its result",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) connectivityOp() huma.Operation {
	return huma.Operation{
		OperationID: "connectivity-set",
		Method:      http.MethodPut,
		Path:        "/api/v1/connectivity",
		Summary:     "Set connectivity",
		Description: "Manual online/offline trigger; going online starts a drain",
		Tags:        []string{"connectivity"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) snapshotOp() huma.Operation {
	return huma.Operation{
		OperationID: "snapshot",
		Method:      http.MethodGet,
		Path:        "/api/v1/snapshot",
		Summary:     "Current synced entities",
		Tags:        []string{"live"},
		Middlewares: h.middleware,
	}
}
