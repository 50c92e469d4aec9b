package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/transport"
)

func TestRESTInsertVisitPayload(t *testing.T) {
	tr := transport.NewMockTransport()
	b := NewRESTBackend(tr, events.Discard())

	date := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	err := b.InsertVisit(context.Background(), models.Visit{
		ID:          "v1",
		ApartmentID: "a1",
		VisitDate:   date,
		Status:      models.VisitNoAccess,
	})
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, OpInsertVisit, calls[0].Op)
	assert.Equal(t, models.TableVisits, calls[0].Table)

	data, err := json.Marshal(calls[0].Body)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "v1", payload["id"])
	assert.Nil(t, payload["worker_id"])
	assert.Equal(t, []interface{}{}, payload["tasks_completed"])
	assert.Equal(t, "2026-03-01T08:30:00Z", payload["visit_date"])
	assert.NotContains(t, payload, "created_at")
}

func TestRESTSessionCalls(t *testing.T) {
	tr := transport.NewMockTransport()
	b := NewRESTBackend(tr, events.Discard())
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, b.StartSession(ctx, "w1", "a1", at))
	require.NoError(t, b.EndSession(ctx, "w1", "a1", at))

	calls := tr.Calls()
	require.Len(t, calls, 2)

	assert.Equal(t, OpStartSession, calls[0].Op)
	assert.Equal(t, "worker_id,apartment_id", calls[0].OnConflict)

	assert.Equal(t, OpEndSession, calls[1].Op)
	assert.Equal(t, "eq.w1", calls[1].Query.Get("worker_id"))
	assert.Equal(t, "eq.a1", calls[1].Query.Get("apartment_id"))
	assert.Equal(t, "eq.active", calls[1].Query.Get("status"))
}

func TestRESTEndSessionWithoutActiveRowSucceeds(t *testing.T) {
	tr := transport.NewMockTransport()
	tr.UpdateCounts[models.TableActiveSessions] = 0
	b := NewRESTBackend(tr, events.Discard())

	assert.NoError(t, b.EndSession(context.Background(), "w1", "a9", time.Now()))
}

func TestRESTPropagatesRemoteErrors(t *testing.T) {
	tr := transport.NewMockTransport()
	tr.FailOp(OpInsertVisit, models.Rejected(OpInsertVisit, 400, &models.APIError{Message: "bad status"}))
	b := NewRESTBackend(tr, events.Discard())

	err := b.InsertVisit(context.Background(), models.Visit{ID: "v1"})
	assert.ErrorIs(t, err, models.ErrRemoteWriteRejected)
}

func TestRESTListVisitsNormalizesTasks(t *testing.T) {
	tr := transport.NewMockTransport()
	tr.SetRows(models.TableVisits, []map[string]interface{}{
		{"id": "v1", "apartment_id": "a1", "worker_id": nil, "status": "completed", "tasks_completed": nil},
	})
	b := NewRESTBackend(tr, events.Discard())

	visits, err := b.ListVisits(context.Background())
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "", visits[0].WorkerID)
	assert.NotNil(t, visits[0].TasksCompleted)

	calls := tr.Calls()
	assert.Equal(t, "visit_date.desc", calls[0].Query.Get("order"))
}

func TestRESTListActiveSessionsFiltersActive(t *testing.T) {
	tr := transport.NewMockTransport()
	b := NewRESTBackend(tr, events.Discard())

	_, err := b.ListActiveSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eq.active", tr.Calls()[0].Query.Get("status"))
}

func TestRESTListenWithoutFeed(t *testing.T) {
	tr := transport.NewMockTransport()
	tr.RealtimeErr = transport.ErrRealtimeDisabled
	b := NewRESTBackend(tr, events.Discard())

	_, err := b.Listen(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestRESTListenForwardsFeed(t *testing.T) {
	tr := transport.NewMockTransport()
	tr.Notes = []models.Notification{{Kind: models.NotifyConnected}}
	b := NewRESTBackend(tr, events.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	feed, err := b.Listen(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.NotifyConnected, (<-feed).Kind)
	cancel()
	_, ok := <-feed
	assert.False(t, ok)

	require.NoError(t, b.Close())
	assert.True(t, tr.Closed())
}

func TestClassify(t *testing.T) {
	err := classify(OpInsertVisit, &pgconn.PgError{Code: "23503", Message: "violates foreign key"})
	assert.ErrorIs(t, err, models.ErrRemoteWriteRejected)

	var remote *models.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "23503", remote.Code)

	err = classify(OpInsertVisit, errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, models.ErrRemoteUnreachable)
}

func TestMockBackendSemantics(t *testing.T) {
	m := NewMockBackend()
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	// duplicate inserts keep the first row
	require.NoError(t, m.InsertVisit(ctx, models.Visit{ID: "v1", Status: models.VisitCompleted, VisitDate: at}))
	require.NoError(t, m.InsertVisit(ctx, models.Visit{ID: "v1", Status: models.VisitNoAccess, VisitDate: at}))
	assert.Equal(t, 1, m.VisitCount())
	v, ok := m.Visit("v1")
	require.True(t, ok)
	assert.Equal(t, models.VisitCompleted, v.Status)

	// end without start is a no-op
	require.NoError(t, m.EndSession(ctx, "w1", "a1", at))
	_, ok = m.Session("w1", "a1")
	assert.False(t, ok)

	require.NoError(t, m.StartSession(ctx, "w1", "a1", at))
	require.NoError(t, m.StartSession(ctx, "w1", "a1", at.Add(time.Minute)))
	active, err := m.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, at.Add(time.Minute), active[0].StartedAt)

	require.NoError(t, m.EndSession(ctx, "w1", "a1", at.Add(time.Hour)))
	s, _ := m.Session("w1", "a1")
	assert.Equal(t, models.SessionCompleted, s.Status)
	require.NotNil(t, s.EndedAt)

	active, err = m.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.Equal(t, []string{"w1:a1", "w1:a1"}, m.CallsFor(OpStartSession))
}

func TestMockBackendFailures(t *testing.T) {
	m := NewMockBackend()
	ctx := context.Background()

	m.FailWhen(func(op, key string) error {
		if op == OpInsertVisit && key == "bad" {
			return models.Rejected(op, 400, nil)
		}
		return nil
	})

	assert.NoError(t, m.InsertVisit(ctx, models.Visit{ID: "good"}))
	assert.ErrorIs(t, m.InsertVisit(ctx, models.Visit{ID: "bad"}), models.ErrRemoteWriteRejected)

	m.FailOp(OpListVisits, models.Unreachable(OpListVisits, errors.New("down")))
	_, err := m.ListVisits(ctx)
	assert.ErrorIs(t, err, models.ErrRemoteUnreachable)

	m.FailOp(OpListVisits, nil)
	visits, err := m.ListVisits(ctx)
	require.NoError(t, err)
	assert.Len(t, visits, 1)
}

func TestMockBackendListen(t *testing.T) {
	m := NewMockBackend()
	ctx, cancel := context.WithCancel(context.Background())

	feed, err := m.Listen(ctx)
	require.NoError(t, err)

	m.Emit(models.Notification{Kind: models.NotifyChange, Table: models.TableVisits})
	n := <-feed
	assert.Equal(t, models.NotifyChange, n.Kind)
	assert.False(t, n.ReceivedAt.IsZero())

	cancel()
	for range feed {
	}
	// no listeners left; must not block
	m.Emit(models.Notification{Kind: models.NotifyChange})
}
