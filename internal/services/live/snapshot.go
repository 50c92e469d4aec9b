package live

import (
	"time"

	"github.com/TheMichaelB/visitsync/internal/models"
)

// Snapshot is the in-memory copy of the synced entities. Lists are
// replaced wholesale from the server; only optimistic writes patch them.
type Snapshot struct {
	Workers    []models.Worker        `json:"workers"`
	Buildings  []models.Building      `json:"buildings"`
	Apartments []models.Apartment     `json:"apartments"`
	Visits     []models.Visit         `json:"visits"`
	Sessions   []models.ActiveSession `json:"sessions"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{
		Workers:    append([]models.Worker(nil), s.Workers...),
		Buildings:  append([]models.Building(nil), s.Buildings...),
		Apartments: append([]models.Apartment(nil), s.Apartments...),
		Visits:     append([]models.Visit(nil), s.Visits...),
		Sessions:   append([]models.ActiveSession(nil), s.Sessions...),
		UpdatedAt:  s.UpdatedAt,
	}
}

// transaction is an optimistic snapshot change that is kept on commit
// and undone on rollback.
type transaction struct {
	f       *Facade
	prev    Snapshot
	version uint64
	done    bool
}

// begin applies mutate to the snapshot and returns the open transaction.
func (f *Facade) begin(mutate func(*Snapshot)) *transaction {
	f.mu.Lock()
	tx := &transaction{f: f, prev: f.snap.clone()}
	mutate(&f.snap)
	f.version++
	tx.version = f.version
	published := f.snap.clone()
	f.mu.Unlock()

	f.bus.Publish(published)
	return tx
}

func (tx *transaction) commit() {
	tx.done = true
}

// rollback restores the pre-write snapshot unless a server refetch has
// replaced it since; the server copy already lacks the failed write.
func (tx *transaction) rollback() {
	if tx.done {
		return
	}
	tx.done = true

	f := tx.f
	f.mu.Lock()
	if f.version != tx.version {
		f.mu.Unlock()
		return
	}
	f.snap = tx.prev
	f.version++
	published := f.snap.clone()
	f.mu.Unlock()

	f.bus.Publish(published)
}
