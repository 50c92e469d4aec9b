package testutil

import (
	"bytes"
	"time"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// Fixture is the reference directory a test backend starts with.
type Fixture struct {
	Workers    []models.Worker
	Buildings  []models.Building
	Apartments []models.Apartment
	Visits     []models.Visit
}

// SampleFixture is one building with three apartments and two workers.
func SampleFixture() *Fixture {
	return &Fixture{
		Workers: []models.Worker{
			{ID: "W1", Name: "Ana Silva", Active: true},
			{ID: "W2", Name: "Bruno Costa", Active: true},
		},
		Buildings: []models.Building{
			{ID: "B1", Name: "Harbour View", Address: "12 Quay Street"},
		},
		Apartments: []models.Apartment{
			{ID: "A1", BuildingID: "B1", Number: "101", Floor: 1},
			{ID: "A2", BuildingID: "B1", Number: "102", Floor: 1},
			{ID: "A3", BuildingID: "B1", Number: "201", Floor: 2},
		},
		Visits: []models.Visit{
			{
				ID:             "seed-visit",
				ApartmentID:    "A3",
				WorkerID:       "W2",
				VisitDate:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
				Status:         models.VisitCompleted,
				TasksCompleted: []string{"filter"},
			},
		},
	}
}

// Load seeds ts with the fixture's tables.
func (f *Fixture) Load(ts *TestServer) {
	ts.Seed(models.TableWorkers, f.Workers)
	ts.Seed(models.TableBuildings, f.Buildings)
	ts.Seed(models.TableApartments, f.Apartments)
	ts.Seed(models.TableVisits, f.Visits)
	ts.Seed(models.TableActiveSessions, []models.ActiveSession{})
}

// SampleVisit returns a completed visit input for apartmentID.
func SampleVisit(apartmentID string) models.VisitInput {
	notes := "checked"
	return models.VisitInput{
		ApartmentID:    apartmentID,
		Status:         models.VisitCompleted,
		Notes:          &notes,
		TasksCompleted: []string{"filter", "valve"},
	}
}
