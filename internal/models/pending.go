package models

import (
	"fmt"
	"time"
)

// PendingVisit is a visit write captured while offline.
type PendingVisit struct {
	ID             string      `json:"id"`
	ApartmentID    string      `json:"apartment_id"`
	WorkerID       string      `json:"worker_id"`
	VisitDate      time.Time   `json:"visit_date"`
	Status         VisitStatus `json:"status"`
	Notes          *string     `json:"notes"`
	TasksCompleted []string    `json:"tasks_completed"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
	Synced         bool        `json:"synced"`
}

// Validate checks the fields the queue depends on. The worker is checked
// by callers that know the current worker.
func (p *PendingVisit) Validate() error {
	if p.ApartmentID == "" {
		return fmt.Errorf("%w: apartment id is required", ErrInvalidRecord)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown visit status %q", ErrInvalidRecord, p.Status)
	}
	return nil
}

// Visit returns the remote row this record replays as. The record id is
// the remote id, which makes replays idempotent.
func (p *PendingVisit) Visit() Visit {
	tasks := p.TasksCompleted
	if tasks == nil {
		tasks = []string{}
	}
	return Visit{
		ID:             p.ID,
		ApartmentID:    p.ApartmentID,
		WorkerID:       p.WorkerID,
		VisitDate:      p.VisitDate,
		Status:         p.Status,
		Notes:          p.Notes,
		TasksCompleted: tasks,
	}
}

// PendingSession is a session transition captured while offline.
type PendingSession struct {
	ID          string        `json:"id"`
	WorkerID    string        `json:"worker_id"`
	ApartmentID string        `json:"apartment_id"`
	Action      SessionAction `json:"action"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	Synced      bool          `json:"synced"`
}

// Validate checks required fields and enums.
func (p *PendingSession) Validate() error {
	if p.WorkerID == "" {
		return fmt.Errorf("%w: worker id is required", ErrInvalidRecord)
	}
	if p.ApartmentID == "" {
		return fmt.Errorf("%w: apartment id is required", ErrInvalidRecord)
	}
	if !p.Action.Valid() {
		return fmt.Errorf("%w: unknown session action %q", ErrInvalidRecord, p.Action)
	}
	return nil
}

// PendingCount is the number of unsynced records per collection.
type PendingCount struct {
	Visits   int `json:"visits"`
	Sessions int `json:"sessions"`
}

// Total returns visits plus sessions.
func (c PendingCount) Total() int {
	return c.Visits + c.Sessions
}

// PurgeResult reports how many synced rows a purge removed.
type PurgeResult struct {
	Visits   int `json:"visits"`
	Sessions int `json:"sessions"`
}

// QueueAge describes the oldest unsynced record, if any.
type QueueAge struct {
	Oldest time.Time `json:"oldest,omitempty"`
	Empty  bool      `json:"empty"`
}

// Age returns how long the oldest record has waited.
func (a QueueAge) Age(now time.Time) time.Duration {
	if a.Empty || a.Oldest.IsZero() {
		return 0
	}
	return now.Sub(a.Oldest)
}
