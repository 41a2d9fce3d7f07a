package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/scenergy/scenesync/internal/config"
	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
)

// API combines the HTTP endpoints and the live feed stream.
type API interface {
	// HTTP endpoints
	Login(ctx context.Context, email, password string) (*models.AuthResponse, error)
	FetchClient(ctx context.Context, clientID string) (*models.Client, error)
	UpdateSession(ctx context.Context, clientID, productID string, session *models.Session) error
	JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
	DownloadAsset(ctx context.Context, imageID string) ([]byte, error)

	// Live feed
	StreamFeed(ctx context.Context, clientID string) (<-chan *models.FeedMessage, error)

	// Authentication
	SetToken(token string)
	Token() string

	// Lifecycle
	Close() error
}

// DefaultAPI implements the API interface.
type DefaultAPI struct {
	http   *HTTPClient
	logger *events.Logger

	mu sync.Mutex
	ws *WSClient
}

// NewAPI creates an API client.
func NewAPI(cfg *config.APIConfig, logger *events.Logger) API {
	if logger == nil {
		logger = events.Discard()
	}

	return &DefaultAPI{
		http:   NewHTTPClient(cfg, logger),
		logger: logger,
	}
}

// Login forwards to the HTTP client.
func (t *DefaultAPI) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	return t.http.Login(ctx, email, password)
}

// FetchClient forwards to the HTTP client.
func (t *DefaultAPI) FetchClient(ctx context.Context, clientID string) (*models.Client, error) {
	return t.http.FetchClient(ctx, clientID)
}

// UpdateSession forwards to the HTTP client.
func (t *DefaultAPI) UpdateSession(ctx context.Context, clientID, productID string, session *models.Session) error {
	return t.http.UpdateSession(ctx, clientID, productID, session)
}

// JobStatus forwards to the HTTP client.
func (t *DefaultAPI) JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	return t.http.JobStatus(ctx, jobID)
}

// DownloadAsset forwards to the HTTP client.
func (t *DefaultAPI) DownloadAsset(ctx context.Context, imageID string) ([]byte, error) {
	return t.http.DownloadAsset(ctx, imageID)
}

// StreamFeed opens the live feed for a client workspace. Any previous
// feed is closed first.
func (t *DefaultAPI) StreamFeed(ctx context.Context, clientID string) (<-chan *models.FeedMessage, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ws != nil {
		_ = t.ws.Close()
	}

	feedURL := fmt.Sprintf("%s/clients/%s/feed", t.http.baseURL, url.PathEscape(clientID))
	ws := NewWSClient(feedURL, t.http.Token(), t.logger)

	if err := ws.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect feed: %w", err)
	}

	if err := ws.Subscribe(clientID); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("subscribe feed: %w", err)
	}

	t.ws = ws

	// Surface stream errors in the log
	go func() {
		for err := range ws.Errors() {
			t.logger.WithError(err).Error("Feed stream error")
		}
	}()

	return ws.Messages(), nil
}

// SetToken sets the auth token.
func (t *DefaultAPI) SetToken(token string) {
	t.http.SetToken(token)
}

// Token returns the current auth token.
func (t *DefaultAPI) Token() string {
	return t.http.Token()
}

// Close closes the live feed if one is open.
func (t *DefaultAPI) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ws != nil {
		err := t.ws.Close()
		t.ws = nil
		return err
	}

	return nil
}
