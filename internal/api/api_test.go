package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/visitsync/internal/api"
	"github.com/TheMichaelB/visitsync/internal/connectivity"
	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/queue"
	"github.com/TheMichaelB/visitsync/internal/services/live"
	"github.com/TheMichaelB/visitsync/internal/services/remote"
	"github.com/TheMichaelB/visitsync/internal/services/status"
	syncsvc "github.com/TheMichaelB/visitsync/internal/services/sync"
)

type env struct {
	store   *queue.MemoryStore
	backend *remote.MockBackend
	monitor *connectivity.Monitor
	engine  *syncsvc.Engine
	api     humatest.TestAPI
}

func newEnv(t *testing.T, online bool) *env {
	t.Helper()
	logger := events.Discard()

	e := &env{
		store:   queue.NewMemoryStore(),
		backend: remote.NewMockBackend(),
	}
	state := connectivity.NewState(online)
	tracker := status.NewTracker(e.store, logger)
	e.engine = syncsvc.NewEngine(e.store, e.backend, state, tracker, nil, logger)
	e.monitor = connectivity.NewMonitor(state, e.engine, logger)
	facade := live.NewFacade(live.Deps{
		Backend: e.backend,
		Store:   e.store,
		Online:  state,
	}, logger)

	_, testAPI := humatest.New(t)
	api.Register(testAPI, api.Deps{
		Store:        e.store,
		Drainer:      e.engine,
		Connectivity: e.monitor,
		Snapshot:     facade,
		HistoryLimit: 50,
	}, logger)
	e.api = testAPI
	return e
}

func (e *env) enqueue(t *testing.T, id string) {
	t.Helper()
	_, err := e.store.EnqueueVisit(context.Background(), models.PendingVisit{ID: id, ApartmentID: "A1", Status: models.VisitCompleted})
	require.NoError(t, err)
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	e := newEnv(t, true)

	resp := e.api.Get("/api/v1/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var body api.HealthResponse
	decode(t, resp, &body)
	assert.Equal(t, "OK", body.Status)
	assert.True(t, body.Online)
	assert.False(t, body.Draining)
}

func TestPending(t *testing.T) {
	e := newEnv(t, false)
	e.enqueue(t, "v1")
	e.enqueue(t, "v2")

	resp := e.api.Get("/api/v1/sync/pending")
	require.Equal(t, http.StatusOK, resp.Code)

	var body api.PendingResponse
	decode(t, resp, &body)
	assert.Equal(t, 2, body.Visits)
	assert.Equal(t, 0, body.Sessions)
	assert.Equal(t, 2, body.Total)
	assert.NotNil(t, body.OldestPending)
}

func TestPendingEmpty(t *testing.T) {
	e := newEnv(t, false)

	var body api.PendingResponse
	decode(t, e.api.Get("/api/v1/sync/pending"), &body)
	assert.Equal(t, 0, body.Total)
	assert.Nil(t, body.OldestPending)
}

func TestPendingStorageFault(t *testing.T) {
	e := newEnv(t, false)
	e.store.FailOn(queue.OpCountPending, errors.New("disk"))

	resp := e.api.Get("/api/v1/sync/pending")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestSyncAndHistory(t *testing.T) {
	e := newEnv(t, true)
	e.enqueue(t, "v1")
	e.enqueue(t, "v2")
	e.backend.FailWhen(func(op, key string) error {
		if key == "v2" {
			return models.Rejected(op, 400, nil)
		}
		return nil
	})

	resp := e.api.Post("/api/v1/sync")
	require.Equal(t, http.StatusOK, resp.Code)

	var result api.SyncResponse
	decode(t, resp, &result)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 1, result.Result.Visits.Succeeded)
	assert.Equal(t, 1, result.Result.Pending.Visits)

	var history api.HistoryResponse
	decode(t, e.api.Get("/api/v1/sync/history?limit=1"), &history)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, models.OutcomeFailed, history.Entries[0].Outcome)

	decode(t, e.api.Get("/api/v1/sync/history"), &history)
	assert.Len(t, history.Entries, 2)

	var stats models.SyncStats
	decode(t, e.api.Get("/api/v1/sync/stats"), &stats)
	assert.Equal(t, models.SyncStats{Total: 2, Succeeded: 1, Failed: 1}, stats)
}

func TestSyncOfflineSkips(t *testing.T) {
	e := newEnv(t, false)
	e.enqueue(t, "v1")

	var result api.SyncResponse
	decode(t, e.api.Post("/api/v1/sync"), &result)
	assert.Equal(t, "skipped", result.Status)
	assert.Equal(t, syncsvc.SkipOffline, result.Result.Skipped)
	assert.Empty(t, e.backend.Calls())
}

func TestHistoryLimitValidated(t *testing.T) {
	e := newEnv(t, false)

	resp := e.api.Get("/api/v1/sync/history?limit=5000")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestConnectivityTrigger(t *testing.T) {
	e := newEnv(t, false)
	e.enqueue(t, "v1")

	resp := e.api.Put("/api/v1/connectivity", map[string]interface{}{"online": true})
	require.Equal(t, http.StatusOK, resp.Code)

	var body api.ConnectivityResponse
	decode(t, resp, &body)
	assert.True(t, body.Online)
	assert.True(t, body.Changed)

	// going online drains
	e.monitor.Wait()
	_, ok := e.backend.Visit("v1")
	assert.True(t, ok)

	decode(t, e.api.Put("/api/v1/connectivity", map[string]interface{}{"online": false}), &body)
	assert.False(t, body.Online)
	assert.True(t, body.Changed)

	decode(t, e.api.Put("/api/v1/connectivity", map[string]interface{}{"online": false}), &body)
	assert.False(t, body.Changed)
}

func TestSnapshot(t *testing.T) {
	e := newEnv(t, true)

	resp := e.api.Get("/api/v1/snapshot")
	require.Equal(t, http.StatusOK, resp.Code)

	var snap live.Snapshot
	decode(t, resp, &snap)
	assert.Empty(t, snap.Visits)
}

func TestNewServesOpenAPI(t *testing.T) {
	e := newEnv(t, true)
	mux := api.New(api.Deps{
		Store:        e.store,
		Drainer:      e.engine,
		Connectivity: e.monitor,
		Snapshot:     live.NewFacade(live.Deps{}, events.Discard()),
	}, events.Discard())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/sync/pending")
}
