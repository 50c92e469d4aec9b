package models

import (
	"time"
)

// RecordType names the collection a history entry refers to.
type RecordType string

const (
	RecordVisit   RecordType = "visit"
	RecordSession RecordType = "session"
)

// Outcome of one sync attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "sync_success"
	OutcomeFailed   Outcome = "sync_failed"
	OutcomeConflict Outcome = "conflict" // reserved
)

// HistoryDetails is the free-form part of a history entry.
type HistoryDetails struct {
	ApartmentID    string        `json:"apartment_id,omitempty"`
	WorkerID       string        `json:"worker_id,omitempty"`
	Action         SessionAction `json:"action,omitempty"`
	Error          string        `json:"error,omitempty"`
	ConflictReason string        `json:"conflict_reason,omitempty"`
	Direct         bool          `json:"direct,omitempty"`
}

// HistoryEntry is one immutable audit record.
type HistoryEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	RecordType   RecordType     `json:"record_type"`
	Outcome      Outcome        `json:"outcome"`
	ReferencedID string         `json:"referenced_id"`
	Details      HistoryDetails `json:"details"`
}

// SyncStats aggregates the history log.
type SyncStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Add counts one outcome.
func (s *SyncStats) Add(o Outcome) {
	s.Total++
	switch o {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeFailed:
		s.Failed++
	case OutcomeConflict:
		s.Conflicts++
	}
}

// DefaultHistoryLimit bounds QueryHistory when no limit is given.
const DefaultHistoryLimit = 50
