package migrations

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/visitsync/internal/events"
)

type MockMigrator struct {
	mock.Mock
}

func (m *MockMigrator) Up() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMigrator) Down() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMigrator) Version() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func (m *MockMigrator) Close() (error, error) {
	args := m.Called()
	return args.Error(0), args.Error(1)
}

func runnerWith(m Migrator) *Runner {
	engine := func(string) (Migrator, error) { return m, nil }
	return NewRunner("postgres://localhost/visitsync", engine, events.Discard())
}

func TestRunnerUpSuccess(t *testing.T) {
	m := new(MockMigrator)
	m.On("Up").Return(nil)
	m.On("Close").Return(nil, nil)

	assert.NoError(t, runnerWith(m).Up())
	m.AssertExpectations(t)
}

func TestRunnerUpNoChange(t *testing.T) {
	m := new(MockMigrator)
	m.On("Up").Return(migrate.ErrNoChange)
	m.On("Close").Return(nil, nil)

	assert.NoError(t, runnerWith(m).Up())
	m.AssertExpectations(t)
}

func TestRunnerUpFailure(t *testing.T) {
	m := new(MockMigrator)
	m.On("Up").Return(errors.New("syntax error"))
	m.On("Close").Return(nil, errors.New("conn reset"))

	err := runnerWith(m).Up()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
	assert.Contains(t, err.Error(), "conn reset")
}

func TestRunnerEngineError(t *testing.T) {
	engine := func(string) (Migrator, error) { return nil, errors.New("bad url") }
	r := NewRunner("nope", engine, events.Discard())

	assert.EqualError(t, r.Up(), "bad url")
}

func TestRunnerVersion(t *testing.T) {
	m := new(MockMigrator)
	m.On("Version").Return(uint(1), false, nil)
	m.On("Close").Return(nil, nil)

	v, dirty, err := runnerWith(m).Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
}

func TestRunnerVersionOnEmptySchema(t *testing.T) {
	m := new(MockMigrator)
	m.On("Version").Return(uint(0), false, migrate.ErrNilVersion)
	m.On("Close").Return(nil, nil)

	v, _, err := runnerWith(m).Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
}

func TestRunnerDown(t *testing.T) {
	m := new(MockMigrator)
	m.On("Down").Return(nil)
	m.On("Close").Return(nil, nil)

	assert.NoError(t, runnerWith(m).Down())
	m.AssertExpectations(t)
}

func TestDriverURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/app", DriverURL("postgres://u:p@db:5432/app"))
	assert.Equal(t, "pgx5://db/app", DriverURL("postgresql://db/app"))
	assert.Equal(t, "pgx5://db/app", DriverURL("pgx5://db/app"))
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	ups, err := fs.Glob(files, "sql/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(files, "sql/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))

	body, err := fs.ReadFile(files, "sql/000001_init.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), NotifyChannel)
}
