package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/TheMichaelB/visitsync/internal/models"
)

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration
	Rows         map[string]interface{} // table -> value marshaled into Select's out
	UpdateCounts map[string]int         // table -> matched rows reported by Update
	Notes        []models.Notification

	// Error injection, keyed by op
	Errors      map[string]error
	PingError   error
	RealtimeErr error

	// Request tracking
	Requests []MockRequest

	closed bool
}

// MockRequest tracks one call.
type MockRequest struct {
	Method     string
	Op         string
	Table      string
	Query      url.Values
	Body       interface{}
	OnConflict string
}

var _ Transport = (*MockTransport)(nil)

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Rows:         make(map[string]interface{}),
		UpdateCounts: make(map[string]int),
		Errors:       make(map[string]error),
	}
}

// Select mocks a table read.
func (m *MockTransport) Select(ctx context.Context, op, table string, query url.Values, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, MockRequest{Method: "GET", Op: op, Table: table, Query: query})
	if err := m.Errors[op]; err != nil {
		return err
	}

	rows, ok := m.Rows[table]
	if !ok {
		rows = []interface{}{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("mock rows for %s: %w", table, err)
	}
	return json.Unmarshal(data, out)
}

// Insert mocks an idempotent insert.
func (m *MockTransport) Insert(ctx context.Context, op, table string, row interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, MockRequest{Method: "POST", Op: op, Table: table, Body: row})
	return m.Errors[op]
}

// Upsert mocks an upsert.
func (m *MockTransport) Upsert(ctx context.Context, op, table string, row interface{}, onConflict string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, MockRequest{Method: "POST", Op: op, Table: table, Body: row, OnConflict: onConflict})
	return m.Errors[op]
}

// Update mocks a conditional update.
func (m *MockTransport) Update(ctx context.Context, op, table string, filter url.Values, patch interface{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, MockRequest{Method: "PATCH", Op: op, Table: table, Query: filter, Body: patch})
	if err := m.Errors[op]; err != nil {
		return 0, err
	}
	return m.UpdateCounts[table], nil
}

// Ping mocks the reachability probe.
func (m *MockTransport) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingError
}

// Realtime replays Notes and then waits for ctx.
func (m *MockTransport) Realtime(ctx context.Context, tables []string) (<-chan models.Notification, error) {
	m.mu.Lock()
	if m.RealtimeErr != nil {
		err := m.RealtimeErr
		m.mu.Unlock()
		return nil, err
	}
	notes := append([]models.Notification(nil), m.Notes...)
	m.mu.Unlock()

	ch := make(chan models.Notification, len(notes))
	for _, n := range notes {
		ch <- n
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// Close mocks connection closing.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Helper methods for test setup

// SetRows sets the rows returned for table.
func (m *MockTransport) SetRows(table string, rows interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rows[table] = rows
}

// FailOp makes every call with op fail with err.
func (m *MockTransport) FailOp(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Errors, op)
		return
	}
	m.Errors[op] = err
}

// Calls returns a copy of the tracked requests.
func (m *MockTransport) Calls() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.Requests...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
