package models

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Remote table names.
const (
	TableWorkers        = "workers"
	TableBuildings      = "buildings"
	TableApartments     = "apartments"
	TableVisits         = "visits"
	TableActiveSessions = "active_sessions"
)

// VisitStatus is the outcome recorded for a maintenance visit.
type VisitStatus string

const (
	VisitCompleted         VisitStatus = "completed"
	VisitRepairNeeded      VisitStatus = "repair-needed"
	VisitReplacementNeeded VisitStatus = "replacement-needed"
	VisitNoAccess          VisitStatus = "no-access"
)

// Valid reports whether s is a known status.
func (s VisitStatus) Valid() bool {
	switch s {
	case VisitCompleted, VisitRepairNeeded, VisitReplacementNeeded, VisitNoAccess:
		return true
	}
	return false
}

// SessionAction is a worker arriving at or leaving an apartment.
type SessionAction string

const (
	SessionStart SessionAction = "start"
	SessionEnd   SessionAction = "end"
)

// Valid reports whether a is a known action.
func (a SessionAction) Valid() bool {
	return a == SessionStart || a == SessionEnd
}

// SessionStatus of a remote active_sessions row.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Worker performs maintenance visits.
type Worker struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Active bool   `json:"active"`
}

// Building groups apartments.
type Building struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Apartment is the unit a visit or session refers to.
type Apartment struct {
	ID         string `json:"id"`
	BuildingID string `json:"building_id"`
	Number     string `json:"number"`
	Floor      int    `json:"floor"`
}

// Visit is a synced maintenance visit row.
type Visit struct {
	ID             string      `json:"id"`
	ApartmentID    string      `json:"apartment_id"`
	WorkerID       string      `json:"worker_id"`
	VisitDate      time.Time   `json:"visit_date"`
	Status         VisitStatus `json:"status"`
	Notes          *string     `json:"notes"`
	TasksCompleted []string    `json:"tasks_completed"`
	CreatedAt      time.Time   `json:"created_at,omitempty"`
}

// ActiveSession is the remote presence row keyed by (worker, apartment).
type ActiveSession struct {
	WorkerID    string        `json:"worker_id"`
	ApartmentID string        `json:"apartment_id"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at"`
}

// VisitInput is what a caller supplies to record a visit.
type VisitInput struct {
	ID             string      `json:"id,omitempty"`
	ApartmentID    string      `json:"apartment_id"`
	WorkerID       string      `json:"worker_id,omitempty"`
	VisitDate      time.Time   `json:"visit_date"`
	Status         VisitStatus `json:"status"`
	Notes          *string     `json:"notes,omitempty"`
	TasksCompleted []string    `json:"tasks_completed,omitempty"`
}

// Normalize trims and NFC-normalizes free text and defaults the visit date.
func (in *VisitInput) Normalize(now time.Time) {
	in.ApartmentID = strings.TrimSpace(in.ApartmentID)
	in.WorkerID = strings.TrimSpace(in.WorkerID)
	in.Notes = NormalizeNotes(in.Notes)
	in.TasksCompleted = NormalizeTasks(in.TasksCompleted)
	if in.VisitDate.IsZero() {
		in.VisitDate = now
	}
	in.VisitDate = in.VisitDate.UTC()
}

// Validate checks required fields and enums.
func (in *VisitInput) Validate() error {
	if in.ApartmentID == "" {
		return fmt.Errorf("%w: apartment id is required", ErrInvalidRecord)
	}
	if in.WorkerID == "" {
		return fmt.Errorf("%w: worker id is required", ErrInvalidRecord)
	}
	if !in.Status.Valid() {
		return fmt.Errorf("%w: unknown visit status %q", ErrInvalidRecord, in.Status)
	}
	return nil
}

// Visit converts the input to a remote row with the given id.
func (in *VisitInput) Visit(id string) Visit {
	return Visit{
		ID:             id,
		ApartmentID:    in.ApartmentID,
		WorkerID:       in.WorkerID,
		VisitDate:      in.VisitDate,
		Status:         in.Status,
		Notes:          in.Notes,
		TasksCompleted: in.TasksCompleted,
	}
}

// Pending converts the input to a queue record.
func (in *VisitInput) Pending() PendingVisit {
	return PendingVisit{
		ID:             in.ID,
		ApartmentID:    in.ApartmentID,
		WorkerID:       in.WorkerID,
		VisitDate:      in.VisitDate,
		Status:         in.Status,
		Notes:          in.Notes,
		TasksCompleted: in.TasksCompleted,
	}
}

// NormalizeText trims s and converts it to Unicode NFC.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// NormalizeNotes normalizes nullable notes; blank notes become nil.
func NormalizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	n := NormalizeText(*notes)
	if n == "" {
		return nil
	}
	return &n
}

// NormalizeTasks normalizes task labels, dropping blanks and keeping order.
func NormalizeTasks(tasks []string) []string {
	if len(tasks) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if n := NormalizeText(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}
