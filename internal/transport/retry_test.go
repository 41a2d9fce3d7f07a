package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
)

func TestRetryWithBackoff(t *testing.T) {
	attempts := 0
	startTime := time.Now()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
		logger:     logger,
	}

	err := client.retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	duration := time.Since(startTime)

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// Should have delays: 0ms, 100ms, 200ms = 300ms total
	assert.GreaterOrEqual(t, duration, 300*time.Millisecond)
	assert.Less(t, duration, 400*time.Millisecond)
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
		return errors.New("error")
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
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, attempts) // maxRetries + 1
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

func TestRetryStopsOnNonRetryableAPIError(t *testing.T) {
	attempts := 0
	client := &HTTPClient{
		maxRetries: 3,
		retryDelay: 10 * time.Millisecond,
		logger:     events.Discard(),
	}

	err := client.retry(context.Background(), func() error {
		attempts++
		return &models.APIError{StatusCode: http.StatusNotFound, Message: "missing"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestIsRetryableStatusCode(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{logger: logger}

	tests := []struct {
		status   int
		expected bool
	}{
		{200, false}, // OK
		{400, false}, // Bad Request
		{401, false}, // Unauthorized
		{404, false}, // Not Found
		{429, true},  // Too Many Requests
		{500, true},  // Internal Server Error
		{502, true},  // Bad Gateway
		{503, true},  // Service Unavailable
		{504, true},  // Gateway Timeout
		{599, true},  // Other 5xx
		{600, false}, // Not in 5xx range
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			result := client.isRetryable(tt.status)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	client := &HTTPClient{logger: events.Discard()}

	assert.True(t, client.isRetryableError(errors.New("connection reset")))
	assert.True(t, client.isRetryableError(&models.APIError{StatusCode: 503}))
	assert.False(t, client.isRetryableError(&models.APIError{StatusCode: 400}))
	assert.False(t, client.isRetryableError(fmt.Errorf("wrap: %w", &models.APIError{StatusCode: 404})))
}

func TestRetryExponentialBackoff(t *testing.T) {
	attempts := 0
	delays := []time.Duration{}
	startTime := time.Now()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := &HTTPClient{
		maxRetries: 4,
		retryDelay: 50 * time.Millisecond,
		logger:     logger,
	}

	err := client.retry(context.Background(), func() error {
		if attempts > 0 {
			delays = append(delays, time.Since(startTime))
		}
		startTime = time.Now()
		attempts++
		if attempts < 4 {
			return errors.New("error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 4, attempts)
	assert.Len(t, delays, 3)

	// Verify exponential backoff: 50ms, 100ms, 200ms
	assert.GreaterOrEqual(t, delays[0], 50*time.Millisecond)
	assert.Less(t, delays[0], 80*time.Millisecond)

	assert.GreaterOrEqual(t, delays[1], 100*time.Millisecond)
	assert.Less(t, delays[1], 130*time.Millisecond)

	assert.GreaterOrEqual(t, delays[2], 200*time.Millisecond)
	assert.Less(t, delays[2], 230*time.Millisecond)
}

func TestDoJSONRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"job_id":"job-1","state":"completed","progress":100}`))
	}))
	defer server.Close()

	client := &HTTPClient{
		client:     server.Client(),
		baseURL:    server.URL,
		userAgent:  "test",
		maxRetries: 3,
		retryDelay: 10 * time.Millisecond,
		logger:     events.Discard(),
	}

	status, err := client.JobStatus(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, models.JobCompleted, status.State)
}

func TestDoJSONDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"STATE_ERROR","message":"session is read-only"}`))
	}))
	defer server.Close()

	client := &HTTPClient{
		client:     server.Client(),
		baseURL:    server.URL,
		userAgent:  "test",
		maxRetries: 3,
		retryDelay: 10 * time.Millisecond,
		logger:     events.Discard(),
	}

	err := client.UpdateSession(context.Background(), "c1", "p1", &models.Session{ID: "s1"})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "STATE_ERROR", apiErr.Code)
}
