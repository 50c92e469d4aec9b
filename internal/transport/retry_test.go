package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/visitsync/internal/events"
)

func transient(msg string) error {
	return &retryableError{err: errors.New(msg)}
}

func TestRetryWithBackoff(t *testing.T) {
	attempts := 0
	startTime := time.Now()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{
		maxRetries: 3,
		retryDelay: 50 * time.Millisecond,
		logger:     logger,
	}

	err := client.retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return transient("temporary error")
		}
		return nil
	})

	duration := time.Since(startTime)

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// 50ms + 100ms
	assert.GreaterOrEqual(t, duration, 150*time.Millisecond)
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	attempts := 0
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{
		maxRetries: 5,
		retryDelay: 100 * time.Millisecond,
		logger:     logger,
	}

	err := client.retry(ctx, func() error {
		attempts++
		return transient("error")
	})

	assert.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.LessOrEqual(t, attempts, 3)
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{
		maxRetries: 2,
		retryDelay: 10 * time.Millisecond,
		logger:     logger,
	}

	err := client.retry(context.Background(), func() error {
		attempts++
		return transient("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, attempts) // maxRetries + 1
}

func TestRetryNonRetryableError(t *testing.T) {
	attempts := 0
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{
		maxRetries: 3,
		retryDelay: 10 * time.Millisecond,
		logger:     logger,
	}

	rejected := errors.New("bad request")
	err := client.retry(context.Background(), func() error {
		attempts++
		return rejected
	})

	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, attempts)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{
		maxRetries: 3,
		retryDelay: 10 * time.Millisecond,
		logger:     logger,
	}

	err := client.retry(ctx, func() error {
		attempts++
		return transient("some error")
	})

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrySuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
		logger:     logger,
	}

	err := client.retry(context.Background(), func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryableStatusCode(t *testing.T) {
	client := &HTTPClient{logger: events.Discard()}

	tests := []struct {
		status   int
		expected bool
	}{
		{200, false}, // OK
		{400, false}, // Bad Request
		{401, false}, // Unauthorized
		{404, false}, // Not Found
		{409, false}, // Conflict
		{408, true},  // Request Timeout
		{429, true},  // Too Many Requests
		{500, true},  // Internal Server Error
		{502, true},  // Bad Gateway
		{503, true},  // Service Unavailable
		{599, true},  // Other 5xx
		{600, false}, // Not in 5xx range
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, client.isRetryable(tt.status))
		})
	}
}

func TestIsRetryableErrorIgnoresContextErrors(t *testing.T) {
	client := &HTTPClient{logger: events.Discard()}

	assert.False(t, client.isRetryableError(context.Canceled))
	assert.False(t, client.isRetryableError(&retryableError{err: context.DeadlineExceeded}))
	assert.True(t, client.isRetryableError(transient("reset")))
	assert.False(t, client.isRetryableError(errors.New("plain")))
}

func TestReconnectorBackoff(t *testing.T) {
	r := &reconnector{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}

	d0 := r.nextDelay()
	assert.GreaterOrEqual(t, d0, 100*time.Millisecond)
	assert.Less(t, d0, 150*time.Millisecond)

	d1 := r.nextDelay()
	assert.GreaterOrEqual(t, d1, 200*time.Millisecond)
	assert.Less(t, d1, 250*time.Millisecond)

	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, r.nextDelay(), time.Second)
	}
}

func TestReconnectorResetsAfterStableConnection(t *testing.T) {
	r := &reconnector{baseDelay: 100 * time.Millisecond, maxDelay: 10 * time.Second}
	for i := 0; i < 5; i++ {
		r.nextDelay()
	}
	assert.Equal(t, 5, r.attempt)

	r.connectedAt = time.Now().Add(-2 * time.Minute)
	d := r.nextDelay()
	assert.Less(t, d, 150*time.Millisecond)
	assert.Equal(t, 1, r.attempt)
}
