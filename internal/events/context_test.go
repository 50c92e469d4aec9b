package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/visitsync/internal/events"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return default logger when none in context
	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	ctx := context.Background()
	logger := &events.Logger{}

	ctx = events.WithLogger(ctx, logger)
	retrieved := events.FromContext(ctx)

	assert.Equal(t, logger, retrieved)
}

func TestWithDrainID(t *testing.T) {
	var buf bytes.Buffer
	ctx := events.WithLogger(context.Background(), events.NewTestLogger(events.InfoLevel, "json", &buf))

	ctx = events.WithDrainID(ctx, "drain-123")
	assert.Equal(t, "drain-123", events.GetDrainID(ctx))

	events.FromContext(ctx).Info("pass")
	assert.Contains(t, buf.String(), `"drain_id":"drain-123"`)
}

func TestWithWorkerID(t *testing.T) {
	ctx := context.Background()

	ctx = events.WithWorkerID(ctx, "W1")
	assert.Equal(t, "W1", events.GetWorkerID(ctx))

	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestGetIDsEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, events.GetDrainID(ctx))
	assert.Empty(t, events.GetWorkerID(ctx))
}

func TestSetDefault(t *testing.T) {
	customLogger := &events.Logger{}
	events.SetDefault(customLogger)

	ctx := context.Background()
	retrieved := events.FromContext(ctx)

	assert.Equal(t, customLogger, retrieved)
}
