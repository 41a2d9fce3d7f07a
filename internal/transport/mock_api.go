package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/scenergy/scenesync/internal/models"
)

// MockAPI implements API with pluggable per-endpoint functions for
// tests. Calling an endpoint that has no function configured fails
// loudly instead of returning zero values.
type MockAPI struct {
	mu    sync.Mutex
	token string
	calls []string

	LoginFunc         func(ctx context.Context, email, password string) (*models.AuthResponse, error)
	FetchClientFunc   func(ctx context.Context, clientID string) (*models.Client, error)
	UpdateSessionFunc func(ctx context.Context, clientID, productID string, session *models.Session) error
	JobStatusFunc     func(ctx context.Context, jobID string) (*models.JobStatus, error)
	DownloadAssetFunc func(ctx context.Context, imageID string) ([]byte, error)
	StreamFeedFunc    func(ctx context.Context, clientID string) (<-chan *models.FeedMessage, error)
}

// NewMockAPI creates a mock API client.
func NewMockAPI() *MockAPI {
	return &MockAPI{}
}

// Calls returns the endpoint names invoked so far, in order.
func (m *MockAPI) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockAPI) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

// Login delegates to LoginFunc.
func (m *MockAPI) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	m.record("Login")
	if m.LoginFunc == nil {
		return nil, fmt.Errorf("mock: Login not configured")
	}
	return m.LoginFunc(ctx, email, password)
}

// FetchClient delegates to FetchClientFunc.
func (m *MockAPI) FetchClient(ctx context.Context, clientID string) (*models.Client, error) {
	m.record("FetchClient")
	if m.FetchClientFunc == nil {
		return nil, fmt.Errorf("mock: FetchClient not configured")
	}
	return m.FetchClientFunc(ctx, clientID)
}

// UpdateSession delegates to UpdateSessionFunc.
func (m *MockAPI) UpdateSession(ctx context.Context, clientID, productID string, session *models.Session) error {
	m.record("UpdateSession")
	if m.UpdateSessionFunc == nil {
		return fmt.Errorf("mock: UpdateSession not configured")
	}
	return m.UpdateSessionFunc(ctx, clientID, productID, session)
}

// JobStatus delegates to JobStatusFunc.
func (m *MockAPI) JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	m.record("JobStatus")
	if m.JobStatusFunc == nil {
		return nil, fmt.Errorf("mock: JobStatus not configured")
	}
	return m.JobStatusFunc(ctx, jobID)
}

// DownloadAsset delegates to DownloadAssetFunc.
func (m *MockAPI) DownloadAsset(ctx context.Context, imageID string) ([]byte, error) {
	m.record("DownloadAsset")
	if m.DownloadAssetFunc == nil {
		return nil, fmt.Errorf("mock: DownloadAsset not configured")
	}
	return m.DownloadAssetFunc(ctx, imageID)
}

// StreamFeed delegates to StreamFeedFunc.
func (m *MockAPI) StreamFeed(ctx context.Context, clientID string) (<-chan *models.FeedMessage, error) {
	m.record("StreamFeed")
	if m.StreamFeedFunc == nil {
		return nil, fmt.Errorf("mock: StreamFeed not configured")
	}
	return m.StreamFeedFunc(ctx, clientID)
}

// SetToken stores the token.
func (m *MockAPI) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// Token returns the stored token.
func (m *MockAPI) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close is a no-op.
func (m *MockAPI) Close() error {
	m.record("Close")
	return nil
}
