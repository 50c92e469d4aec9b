package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/visitsync/internal/config"
	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/transport"
)

func testAPIConfig(baseURL string) *config.APIConfig {
	return &config.APIConfig{
		BaseURL:    baseURL,
		APIKey:     "anon-key",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
		UserAgent:  "test",
	}
}

func TestHTTPClientRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := transport.NewHTTPClient(testAPIConfig(server.URL), events.Discard())

	resp, err := client.Do(context.Background(), transport.Request{
		Op:     "list visits",
		Method: http.MethodGet,
		Path:   transport.RESTPrefix + "visits",
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestHTTPClientExhaustedRetriesAreUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := transport.NewHTTPClient(testAPIConfig(server.URL), events.Discard())

	_, err := client.Do(context.Background(), transport.Request{
		Op:     "insert visit",
		Method: http.MethodPost,
		Path:   transport.RESTPrefix + "visits",
		Body:   map[string]string{"id": "v1"},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRemoteUnreachable)

	var remote *models.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadGateway, remote.StatusCode)
	assert.Equal(t, "insert visit", remote.Op)
}

func TestHTTPClientRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"23503","message":"insert violates foreign key constraint","hint":"check apartment"}`))
	}))
	defer server.Close()

	client := transport.NewHTTPClient(testAPIConfig(server.URL), events.Discard())

	_, err := client.Do(context.Background(), transport.Request{
		Op:     "insert visit",
		Method: http.MethodPost,
		Path:   transport.RESTPrefix + "visits",
		Body:   map[string]string{"id": "v1"},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRemoteWriteRejected)
	assert.NotErrorIs(t, err, models.ErrRemoteUnreachable)

	var remote *models.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
	assert.Equal(t, "23503", remote.Code)
	assert.Contains(t, err.Error(), "foreign key")
}

func TestHTTPClientNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	cfg := testAPIConfig(baseURL)
	cfg.MaxRetries = 0
	client := transport.NewHTTPClient(cfg, events.Discard())

	_, err := client.Do(context.Background(), transport.Request{
		Op:     "list workers",
		Method: http.MethodGet,
		Path:   transport.RESTPrefix + "workers",
	})
	assert.ErrorIs(t, err, models.ErrRemoteUnreachable)

	assert.ErrorIs(t, client.Ping(context.Background()), models.ErrRemoteUnreachable)
}

func TestTransportSelect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/visits", r.URL.Path)
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, "visit_date.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`[{"id":"v1","apartment_id":"a1","status":"completed"}]`))
	}))
	defer server.Close()

	tr := transport.NewTransport(testAPIConfig(server.URL), events.Discard())
	defer tr.Close()

	var rows []models.Visit
	err := tr.Select(context.Background(), "list visits", models.TableVisits,
		url.Values{"order": {"visit_date.desc"}}, &rows)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "v1", rows[0].ID)
	assert.Equal(t, models.VisitCompleted, rows[0].Status)
}

func TestTransportInsertIgnoresDuplicates(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "resolution=ignore-duplicates,return=minimal", r.Header.Get("Prefer"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tr := transport.NewTransport(testAPIConfig(server.URL), events.Discard())
	err := tr.Insert(context.Background(), "insert visit", models.TableVisits, map[string]string{"id": "v1"})

	require.NoError(t, err)
	assert.Equal(t, "v1", got["id"])
}

func TestTransportUpsert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "worker_id,apartment_id", r.URL.Query().Get("on_conflict"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Prefer"), "resolution=merge-duplicates"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tr := transport.NewTransport(testAPIConfig(server.URL), events.Discard())
	err := tr.Upsert(context.Background(), "start session", models.TableActiveSessions,
		map[string]string{"worker_id": "w1"}, "worker_id,apartment_id")
	require.NoError(t, err)
}

func TestTransportUpdateCountsMatchedRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		if r.URL.Query().Get("apartment_id") == "eq.a1" {
			_, _ = w.Write([]byte(`[{"worker_id":"w1"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	tr := transport.NewTransport(testAPIConfig(server.URL), events.Discard())
	ctx := context.Background()

	n, err := tr.Update(ctx, "end session", models.TableActiveSessions,
		url.Values{"apartment_id": {transport.Eq("a1")}}, map[string]string{"status": "completed"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tr.Update(ctx, "end session", models.TableActiveSessions,
		url.Values{"apartment_id": {transport.Eq("a2")}}, map[string]string{"status": "completed"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = tr.Update(ctx, "end session", models.TableActiveSessions, nil, map[string]string{})
	assert.Error(t, err)
}

func TestTransportPing(t *testing.T) {
	var status int32 = http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer server.Close()

	tr := transport.NewTransport(testAPIConfig(server.URL), events.Discard())
	assert.NoError(t, tr.Ping(context.Background()))

	atomic.StoreInt32(&status, http.StatusNotFound)
	assert.NoError(t, tr.Ping(context.Background()))

	atomic.StoreInt32(&status, http.StatusServiceUnavailable)
	assert.ErrorIs(t, tr.Ping(context.Background()), models.ErrRemoteUnreachable)
}

func TestRealtimeDisabledWithoutURL(t *testing.T) {
	tr := transport.NewTransport(testAPIConfig("http://localhost:1"), events.Discard())
	_, err := tr.Realtime(context.Background(), []string{models.TableVisits})
	assert.ErrorIs(t, err, transport.ErrRealtimeDisabled)
}

func realtimeServer(t *testing.T, subscribed chan<- []string, frames ...models.RealtimeMessage) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub models.RealtimeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		assert.Equal(t, models.RTSubscribe, sub.Type)
		subscribed <- sub.Tables

		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func nextNotification(t *testing.T, ch <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "feed closed")
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return models.Notification{}
}

func TestRealtimeFeed(t *testing.T) {
	subscribed := make(chan []string, 1)
	server := realtimeServer(t, subscribed,
		models.RealtimeMessage{Type: models.RTSubscribed},
		models.RealtimeMessage{Type: "bogus-without-meaning"},
		models.RealtimeMessage{Type: models.RTChange, Table: models.TableVisits, Op: "INSERT", RecordID: "v1"},
		models.RealtimeMessage{Type: models.RTSyncRequest, Message: "admin"},
	)
	defer server.Close()

	cfg := testAPIConfig(server.URL)
	cfg.RealtimeURL = server.URL

	tr := transport.NewTransport(cfg, events.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := tr.Realtime(ctx, []string{models.TableVisits, models.TableActiveSessions})
	require.NoError(t, err)

	assert.Equal(t, models.NotifyConnected, nextNotification(t, feed).Kind)

	select {
	case tables := <-subscribed:
		assert.Equal(t, []string{models.TableVisits, models.TableActiveSessions}, tables)
	case <-time.After(3 * time.Second):
		t.Fatal("no subscribe frame")
	}

	change := nextNotification(t, feed)
	assert.Equal(t, models.NotifyChange, change.Kind)
	assert.Equal(t, models.TableVisits, change.Table)
	assert.Equal(t, "v1", change.RecordID)

	req := nextNotification(t, feed)
	assert.Equal(t, models.NotifySyncRequest, req.Kind)
	assert.Equal(t, "admin", req.Reason)

	cancel()
	for range feed {
	}
}

func TestRealtimeReportsDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// drop right after the subscribe frame
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))

	rt := transport.NewRealtimeClient(server.URL, "", []string{models.TableVisits}, events.Discard(),
		transport.WithReconnectDelay(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := rt.Run(ctx)

	assert.Equal(t, models.NotifyConnected, nextNotification(t, feed).Kind)
	assert.Equal(t, models.NotifyDisconnected, nextNotification(t, feed).Kind)
	assert.False(t, rt.Connected())

	server.Close()
	cancel()

	select {
	case _, ok := <-feed:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
}

func TestRealtimeInitialFailureIsOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	rt := transport.NewRealtimeClient(server.URL, "", nil, events.Discard(),
		transport.WithReconnectDelay(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := rt.Run(ctx)
	assert.Equal(t, models.NotifyDisconnected, nextNotification(t, feed).Kind)
}
