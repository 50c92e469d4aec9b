package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/TheMichaelB/visitsync/internal/models"
)

const restPrefix = "/rest/v1/"

// Row is one table row as the server stores it.
type Row map[string]interface{}

// RecordedRequest is a write the server received.
type RecordedRequest struct {
	Method string
	Table  string
	Query  url.Values
	Body   Row
}

// TestServer is an in-memory PostgREST-style backend for integration tests.
type TestServer struct {
	*httptest.Server

	mu       sync.RWMutex
	tables   map[string][]Row
	writes   []RecordedRequest
	rejected map[string]bool // apartment ids whose visits are refused
	offline  atomic.Bool
}

// NewTestServer starts a server with empty tables.
func NewTestServer() *TestServer {
	ts := &TestServer{
		tables:   make(map[string][]Row),
		rejected: make(map[string]bool),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handle))
	return ts
}

// SetOffline makes every request fail with 503 while offline is true.
func (ts *TestServer) SetOffline(offline bool) {
	ts.offline.Store(offline)
}

// RejectVisitsFor refuses visit inserts for apartmentID with a 409.
func (ts *TestServer) RejectVisitsFor(apartmentID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.rejected[apartmentID] = true
}

// Accept lifts a RejectVisitsFor.
func (ts *TestServer) Accept(apartmentID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.rejected, apartmentID)
}

// Seed replaces the rows of table with rows marshalled to JSON objects.
func (ts *TestServer) Seed(table string, rows interface{}) {
	data, err := json.Marshal(rows)
	if err != nil {
		panic(err)
	}
	var decoded []Row
	if err := json.Unmarshal(data, &decoded); err != nil {
		panic(err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tables[table] = decoded
}

// Rows returns a copy of the rows of table.
func (ts *TestServer) Rows(table string) []Row {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]Row(nil), ts.tables[table]...)
}

// Writes returns the accepted and refused writes in arrival order.
func (ts *TestServer) Writes() []RecordedRequest {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]RecordedRequest(nil), ts.writes...)
}

// VisitIDs lists the ids of stored visits.
func (ts *TestServer) VisitIDs() []string {
	var ids []string
	for _, r := range ts.Rows(models.TableVisits) {
		ids = append(ids, r["id"].(string))
	}
	return ids
}

func (ts *TestServer) handle(w http.ResponseWriter, r *http.Request) {
	if ts.offline.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !strings.HasPrefix(r.URL.Path, restPrefix) {
		http.NotFound(w, r)
		return
	}
	table := strings.TrimPrefix(r.URL.Path, restPrefix)

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		ts.handleSelect(w, table, r.URL.Query())
	case http.MethodPost:
		ts.handleInsert(w, r, table)
	case http.MethodPatch:
		ts.handleUpdate(w, r, table)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (ts *TestServer) handleSelect(w http.ResponseWriter, table string, q url.Values) {
	ts.mu.RLock()
	rows := []Row{}
	for _, row := range ts.tables[table] {
		if matches(row, q) {
			rows = append(rows, row)
		}
	}
	ts.mu.RUnlock()

	_ = writeJSON(w, rows)
}

func (ts *TestServer) handleInsert(w http.ResponseWriter, r *http.Request, table string) {
	var row Row
	if err := decodeJSON(r.Body, &row); err != nil {
		writeAPIError(w, http.StatusBadRequest, "PGRST102", "invalid body")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.writes = append(ts.writes, RecordedRequest{Method: r.Method, Table: table, Query: r.URL.Query(), Body: row})

	if table == models.TableVisits {
		if apt, _ := row["apartment_id"].(string); ts.rejected[apt] {
			writeAPIError(w, http.StatusConflict, "23514", "visit rejected for apartment "+apt)
			return
		}
	}

	keys := []string{"id"}
	if cols := r.URL.Query().Get("on_conflict"); cols != "" {
		keys = strings.Split(cols, ",")
	}
	merge := strings.Contains(r.Header.Get("Prefer"), "merge-duplicates")

	for i, existing := range ts.tables[table] {
		if sameKey(existing, row, keys) {
			if merge {
				for k, v := range row {
					existing[k] = v
				}
				ts.tables[table][i] = existing
			}
			w.WriteHeader(http.StatusCreated)
			return
		}
	}
	ts.tables[table] = append(ts.tables[table], row)
	w.WriteHeader(http.StatusCreated)
}

func (ts *TestServer) handleUpdate(w http.ResponseWriter, r *http.Request, table string) {
	var patch Row
	if err := decodeJSON(r.Body, &patch); err != nil {
		writeAPIError(w, http.StatusBadRequest, "PGRST102", "invalid body")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.writes = append(ts.writes, RecordedRequest{Method: r.Method, Table: table, Query: r.URL.Query(), Body: patch})

	updated := []Row{}
	for _, row := range ts.tables[table] {
		if !matches(row, r.URL.Query()) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		updated = append(updated, row)
	}
	_ = writeJSON(w, updated)
}

// matches applies eq. filters; other query keys are ignored.
func matches(row Row, q url.Values) bool {
	for k, vs := range q {
		for _, v := range vs {
			want, ok := strings.CutPrefix(v, "eq.")
			if !ok {
				continue
			}
			if got, _ := row[k].(string); got != want {
				return false
			}
		}
	}
	return true
}

func sameKey(a, b Row, keys []string) bool {
	for _, k := range keys {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIError{Code: code, Message: message})
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}
