package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/scenergy/scenesync/internal/config"
	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
)

// HTTPClient handles HTTP communication with the API.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *events.Logger

	mu    sync.RWMutex
	token string

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	if logger == nil {
		logger = events.Discard()
	}

	// Create transport with HTTP/2 support
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current authentication token.
func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for a session token.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	payload := models.AuthRequest{Email: email, Password: password}

	var resp models.AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", payload, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if resp.Token == "" {
		return nil, fmt.Errorf("login: empty token in response")
	}

	return &resp, nil
}

// FetchClient retrieves the full workspace tree for a client.
func (c *HTTPClient) FetchClient(ctx context.Context, clientID string) (*models.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	var client models.Client
	err := c.doJSON(ctx, http.MethodGet, "/clients/"+url.PathEscape(clientID), nil, &client)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("client %s: %w", clientID, models.ErrClientNotFound)
		}
		return nil, fmt.Errorf("fetch client %s: %w", clientID, err)
	}

	return &client, nil
}

// UpdateSession uploads the full current session state.
func (c *HTTPClient) UpdateSession(ctx context.Context, clientID, productID string, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}

	path := fmt.Sprintf("/clients/%s/products/%s/sessions/%s",
		url.PathEscape(clientID), url.PathEscape(productID), url.PathEscape(session.ID))

	if err := c.doJSON(ctx, http.MethodPut, path, session, nil); err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}

	return nil
}

// JobStatus retrieves the current state of a generation job. A 404 maps
// to models.ErrJobNotFound so callers can match with errors.Is.
func (c *HTTPClient) JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	var status models.JobStatus
	err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &status)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, models.ErrJobNotFound)
		}
		return nil, fmt.Errorf("fetch job status %s: %w", jobID, err)
	}

	return &status, nil
}

// DownloadAsset downloads a rendered image.
func (c *HTTPClient) DownloadAsset(ctx context.Context, imageID string) ([]byte, error) {
	if imageID == "" {
		return nil, fmt.Errorf("image ID is required")
	}

	requestURL := fmt.Sprintf("%s/assets/%s", c.baseURL, url.PathEscape(imageID))

	c.logger.WithField("image_id", imageID).Debug("Downloading asset")

	var data []byte
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("User-Agent", c.userAgent)
		if token := c.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if reqID := events.GetRequestID(ctx); reqID != "" {
			req.Header.Set("X-Request-ID", reqID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return decodeAPIError(resp.StatusCode, body)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read asset: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("download asset %s: %w", imageID, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"image_id": imageID,
		"size":     len(data),
	}).Debug("Downloaded asset")

	return data, nil
}

// doJSON sends a JSON request and decodes the response into out. A nil
// payload sends no body; a nil out discards the response body.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	requestURL := c.baseURL + path

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	fields := map[string]interface{}{
		"method": method,
		"url":    requestURL,
		"size":   len(body),
	}
	if clientID := events.GetClientID(ctx); clientID != "" {
		fields["client_id"] = clientID
	}
	c.logger.WithFields(fields).Debug("Sending request")

	// Execute with retry
	var resp *http.Response
	err := c.retry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := c.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if reqID := events.GetRequestID(ctx); reqID != "" {
			req.Header.Set("X-Request-ID", reqID)
		}

		resp, err = c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}

		// Retryable status codes abort this attempt; everything else is
		// handled after the retry loop.
		if c.isRetryable(resp.StatusCode) {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
		}

		return nil
	})

	if err != nil {
		return err
	}

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"status": resp.StatusCode,
		"size":   len(respBody),
	}).Debug("Received response")

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	return nil
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusBadGateway ||
		status == http.StatusGatewayTimeout ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable. Structured API
// errors follow their status code; network errors always retry.
func (c *HTTPClient) isRetryableError(err error) bool {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return c.isRetryable(apiErr.StatusCode)
	}
	return true
}

// decodeAPIError maps a non-2xx response body to an *models.APIError.
// Bodies that are not structured errors keep their raw text as the
// message.
func decodeAPIError(status int, body []byte) *models.APIError {
	var apiErr models.APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		apiErr = models.APIError{Message: strings.TrimSpace(string(body))}
	}

	apiErr.StatusCode = status
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	return &apiErr
}

// isStatus reports whether err carries the given HTTP status.
func isStatus(err error, status int) bool {
	var apiErr *models.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
