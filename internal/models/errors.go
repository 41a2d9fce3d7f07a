package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth        = "AUTH_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeConflict    = "CONFLICT"
	ErrCodeState       = "STATE_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeServerError = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrClientNotFound   = errors.New("client not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrRateLimited      = errors.New("rate limited")
	ErrConnectionLost   = errors.New("connection lost")
	ErrFeedClosed       = errors.New("feed closed")
)

// APIError represents an error from the API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// NotFoundError marks a missing entity along a workspace tree path.
type NotFoundError struct {
	Kind string // "client", "product", "session", "message"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// FeedError wraps a fatal live feed failure.
type FeedError struct {
	Code    string
	Message string
	Err     error
}

func (e *FeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("feed [%s]: %s", e.Code, e.Message)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}
