package api

import (
	"time"

	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/services/live"
	syncsvc "github.com/TheMichaelB/visitsync/internal/services/sync"
)

type healthInput struct{}

type healthOutput struct {
	Body HealthResponse
}

// HealthResponse reports liveness and the online flag.
type HealthResponse struct {
	Status   string `json:"status" example:"OK" doc:"Health status of the daemon"`
	Online   bool   `json:"online" doc:"Whether the backend is considered reachable"`
	Draining bool   `json:"draining" doc:"Whether a drain is in flight"`
}

type pendingInput struct{}

type pendingOutput struct {
	Body PendingResponse
}

// PendingResponse is the pending count with the age of the oldest record.
type PendingResponse struct {
	Visits        int        `json:"visits"`
	Sessions      int        `json:"sessions"`
	Total         int        `json:"total"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
	OldestAgeSecs float64    `json:"oldest_age_seconds"`
}

type historyInput struct {
	Limit int `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum entries, newest first; 0 uses the configured default"`
}

type historyOutput struct {
	Body HistoryResponse
}

// HistoryResponse lists sync history entries.
type HistoryResponse struct {
	Entries []models.HistoryEntry `json:"entries"`
}

type statsInput struct{}

type statsOutput struct {
	Body models.SyncStats
}

type syncInput struct{}

type syncOutput struct {
	Body SyncResponse
}

// SyncResponse is the result of a requested drain.
type SyncResponse struct {
	Status string              `json:"status" enum:"completed,skipped"`
	Result syncsvc.DrainResult `json:"result"`
}

type connectivityInput struct {
	Body ConnectivityRequest
}

// ConnectivityRequest is a manual online/offline trigger.
type ConnectivityRequest struct {
	Online bool `json:"online" doc:"New connectivity state"`
}

type connectivityOutput struct {
	Body ConnectivityResponse
}

// ConnectivityResponse reports the flag after the trigger.
type ConnectivityResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

type snapshotInput struct{}

type snapshotOutput struct {
	Body live.Snapshot
}
