package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TheMichaelB/visitsync/internal/models"
)

// MockBackend is an in-memory Backend for tests. Writes behave like the
// real backends: inserts ignore duplicate ids, StartSession upserts and
// EndSession only touches an active row.
type MockBackend struct {
	mu sync.Mutex

	visits     map[string]models.Visit
	sessions   map[string]models.ActiveSession
	workers    []models.Worker
	buildings  []models.Building
	apartments []models.Apartment

	pingErr   error
	listenErr error
	opErrs    map[string]error
	failFn    func(op, key string) error
	hook      func(op, key string)

	calls     []MockCall
	listeners []chan models.Notification
	closed    bool
}

// MockCall records one backend call. Key is the visit id for visit ops and
// "worker:apartment" for session ops.
type MockCall struct {
	Op  string
	Key string
}

var _ Backend = (*MockBackend)(nil)

// NewMockBackend creates an empty mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		visits:   make(map[string]models.Visit),
		sessions: make(map[string]models.ActiveSession),
		opErrs:   make(map[string]error),
	}
}

// SessionKey is the MockCall key of a session op.
func SessionKey(workerID, apartmentID string) string {
	return workerID + ":" + apartmentID
}

// Test setup

// SetPingError makes Ping fail with err.
func (m *MockBackend) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// SetListenError makes Listen fail with err.
func (m *MockBackend) SetListenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenErr = err
}

// FailOp makes every call of op fail with err. A nil err clears it.
func (m *MockBackend) FailOp(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.opErrs, op)
		return
	}
	m.opErrs[op] = err
}

// FailWhen installs a per-call failure function; nil clears it.
func (m *MockBackend) FailWhen(fn func(op, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFn = fn
}

// OnCall installs a hook run before each call, outside the lock.
func (m *MockBackend) OnCall(fn func(op, key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// SeedWorkers sets the worker list.
func (m *MockBackend) SeedWorkers(ws ...models.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append([]models.Worker(nil), ws...)
}

// SeedBuildings sets the building list.
func (m *MockBackend) SeedBuildings(bs ...models.Building) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildings = append([]models.Building(nil), bs...)
}

// SeedApartments sets the apartment list.
func (m *MockBackend) SeedApartments(as ...models.Apartment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apartments = append([]models.Apartment(nil), as...)
}

// Calls returns the recorded calls in order.
func (m *MockBackend) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallsFor returns the keys of recorded calls of op.
func (m *MockBackend) CallsFor(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, c := range m.calls {
		if c.Op == op {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// Visit returns the stored visit with id.
func (m *MockBackend) Visit(id string) (models.Visit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	return v, ok
}

// VisitCount returns how many visit rows exist.
func (m *MockBackend) VisitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visits)
}

// Session returns the stored session row for worker and apartment.
func (m *MockBackend) Session(workerID, apartmentID string) (models.ActiveSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[SessionKey(workerID, apartmentID)]
	return s, ok
}

// Emit delivers n to every open Listen channel. A full channel drops n.
func (m *MockBackend) Emit(n models.Notification) {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.listeners {
		select {
		case ch <- n:
		default:
		}
	}
}

// Backend

func (m *MockBackend) begin(op, key string) error {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(op, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Op: op, Key: key})
	if err := m.opErrs[op]; err != nil {
		return err
	}
	if m.failFn != nil {
		return m.failFn(op, key)
	}
	return nil
}

// Ping returns the configured ping error.
func (m *MockBackend) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

// InsertVisit stores v unless its id exists.
func (m *MockBackend) InsertVisit(ctx context.Context, v models.Visit) error {
	if err := m.begin(OpInsertVisit, v.ID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.visits[v.ID]; ok {
		return nil
	}
	if v.TasksCompleted == nil {
		v.TasksCompleted = []string{}
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.visits[v.ID] = v
	return nil
}

// StartSession upserts the session row as active.
func (m *MockBackend) StartSession(ctx context.Context, workerID, apartmentID string, at time.Time) error {
	key := SessionKey(workerID, apartmentID)
	if err := m.begin(OpStartSession, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[key] = models.ActiveSession{
		WorkerID:    workerID,
		ApartmentID: apartmentID,
		Status:      models.SessionActive,
		StartedAt:   at.UTC(),
	}
	return nil
}

// EndSession completes the session row if it is active.
func (m *MockBackend) EndSession(ctx context.Context, workerID, apartmentID string, at time.Time) error {
	key := SessionKey(workerID, apartmentID)
	if err := m.begin(OpEndSession, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok || s.Status != models.SessionActive {
		return nil
	}
	ended := at.UTC()
	s.Status = models.SessionCompleted
	s.EndedAt = &ended
	m.sessions[key] = s
	return nil
}

// ListVisits returns visits, newest first.
func (m *MockBackend) ListVisits(ctx context.Context) ([]models.Visit, error) {
	if err := m.begin(OpListVisits, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Visit, 0, len(m.visits))
	for _, v := range m.visits {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VisitDate.Equal(out[j].VisitDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].VisitDate.After(out[j].VisitDate)
	})
	return out, nil
}

// ListActiveSessions returns active sessions, newest first.
func (m *MockBackend) ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	if err := m.begin(OpListSessions, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.ActiveSession{}
	for _, s := range m.sessions {
		if s.Status == models.SessionActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return SessionKey(out[i].WorkerID, out[i].ApartmentID) < SessionKey(out[j].WorkerID, out[j].ApartmentID)
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// ListWorkers returns the seeded workers.
func (m *MockBackend) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	if err := m.begin(OpListWorkers, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Worker{}, m.workers...), nil
}

// ListBuildings returns the seeded buildings.
func (m *MockBackend) ListBuildings(ctx context.Context) ([]models.Building, error) {
	if err := m.begin(OpListBuildings, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Building{}, m.buildings...), nil
}

// ListApartments returns the seeded apartments.
func (m *MockBackend) ListApartments(ctx context.Context) ([]models.Apartment, error) {
	if err := m.begin(OpListApartments, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Apartment{}, m.apartments...), nil
}

// Listen returns a channel fed by Emit. It closes when ctx ends.
func (m *MockBackend) Listen(ctx context.Context) (<-chan models.Notification, error) {
	m.mu.Lock()
	if m.listenErr != nil {
		err := m.listenErr
		m.mu.Unlock()
		return nil, err
	}
	ch := make(chan models.Notification, 16)
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, l := range m.listeners {
			if l == ch {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Close marks the backend closed.
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
