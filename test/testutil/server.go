// Package testutil provides shared fixtures and an in-process Scenergy
// API fake for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scenergy/scenesync/internal/models"
)

// SessionUpdate records one session upload the server received.
type SessionUpdate struct {
	ClientID  string
	ProductID string
	Session   *models.Session
}

// TestServer fakes the Scenergy API: login, client trees, session
// uploads, job polling, asset downloads and the live feed websocket.
// Session uploads register any referenced jobs as pending, matching the
// service's contract of picking jobs up from uploaded placeholders.
type TestServer struct {
	*httptest.Server

	mu        sync.RWMutex
	clients   map[string]*models.Client
	jobs      map[string]*models.JobStatus
	scripts   map[string][]*models.JobStatus
	jobCalls  map[string]int
	assets    map[string][]byte
	tokens    map[string]bool
	updates   []SessionUpdate
	feeds     map[string][]*models.FeedMessage
	loginFunc func(email, password string) (*models.AuthResponse, error)

	autoCompleteAfter  int
	autoCompleteImages []string
}

// NewTestServer starts the fake server. Callers own Close.
func NewTestServer() *TestServer {
	ts := &TestServer{
		clients:  make(map[string]*models.Client),
		jobs:     make(map[string]*models.JobStatus),
		scripts:  make(map[string][]*models.JobStatus),
		jobCalls: make(map[string]int),
		assets:   make(map[string][]byte),
		tokens:   make(map[string]bool),
		feeds:    make(map[string][]*models.FeedMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", ts.handleLogin)
	mux.HandleFunc("GET /clients/{clientID}", ts.handleFetchClient)
	mux.HandleFunc("GET /clients/{clientID}/feed", ts.handleFeed)
	mux.HandleFunc("PUT /clients/{clientID}/products/{productID}/sessions/{sessionID}", ts.handleUpdateSession)
	mux.HandleFunc("GET /jobs/{jobID}", ts.handleJobStatus)
	mux.HandleFunc("GET /assets/{imageID}", ts.handleAsset)

	ts.Server = httptest.NewServer(mux)
	return ts
}

// AddClient registers a workspace tree.
func (ts *TestServer) AddClient(client *models.Client) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.clients[client.ID] = client
}

// SetJobStatus pins a job's polled status.
func (ts *TestServer) SetJobStatus(status *models.JobStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.jobs[status.JobID] = status
}

// ScriptJob makes consecutive polls of a job walk the given statuses,
// holding the last one once the script runs out.
func (ts *TestServer) ScriptJob(jobID string, statuses ...*models.JobStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.scripts[jobID] = statuses
}

// AutoCompleteJobs finishes every upload-registered job with the given
// images once it has been polled `after` times.
func (ts *TestServer) AutoCompleteJobs(after int, imageIDs ...string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.autoCompleteAfter = after
	ts.autoCompleteImages = imageIDs
}

// AddAsset registers a downloadable image.
func (ts *TestServer) AddAsset(imageID string, data []byte) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.assets[imageID] = data
}

// QueueFeedFrame appends a frame the feed handler will push after the
// subscribe handshake.
func (ts *TestServer) QueueFeedFrame(clientID string, frame *models.FeedMessage) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.feeds[clientID] = append(ts.feeds[clientID], frame)
}

// SetLoginHandler overrides the default accept-anything login.
func (ts *TestServer) SetLoginHandler(fn func(email, password string) (*models.AuthResponse, error)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.loginFunc = fn
}

// SessionUpdates returns the recorded session uploads.
func (ts *TestServer) SessionUpdates() []SessionUpdate {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]SessionUpdate(nil), ts.updates...)
}

// JobPolls returns how often a job's status was fetched.
func (ts *TestServer) JobPolls(jobID string) int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.jobCalls[jobID]
}

func (ts *TestServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed login payload")
		return
	}

	ts.mu.Lock()
	login := ts.loginFunc
	ts.mu.Unlock()

	var resp *models.AuthResponse
	if login != nil {
		var err error
		resp, err = login(req.Email, req.Password)
		if err != nil {
			writeAPIError(w, http.StatusUnauthorized, models.ErrCodeAuth, err.Error())
			return
		}
	} else {
		if req.Email == "" || req.Password == "" {
			writeAPIError(w, http.StatusUnauthorized, models.ErrCodeAuth, "invalid credentials")
			return
		}
		resp = &models.AuthResponse{
			Token:     "test-token",
			ExpiresAt: time.Now().UTC().Add(time.Hour),
			UserID:    "user-" + req.Email,
		}
	}

	ts.mu.Lock()
	ts.tokens[resp.Token] = true
	ts.mu.Unlock()

	writeJSON(w, resp)
}

func (ts *TestServer) handleFetchClient(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeAPIError(w, http.StatusUnauthorized, models.ErrCodeAuth, "missing or invalid token")
		return
	}

	ts.mu.RLock()
	client, ok := ts.clients[r.PathValue("clientID")]
	ts.mu.RUnlock()

	if !ok {
		writeAPIError(w, http.StatusNotFound, models.ErrCodeNotFound, "client not found")
		return
	}

	writeJSON(w, client)
}

func (ts *TestServer) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeAPIError(w, http.StatusUnauthorized, models.ErrCodeAuth, "missing or invalid token")
		return
	}

	var session models.Session
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed session payload")
		return
	}

	ts.mu.Lock()
	ts.updates = append(ts.updates, SessionUpdate{
		ClientID:  r.PathValue("clientID"),
		ProductID: r.PathValue("productID"),
		Session:   &session,
	})
	for _, msg := range session.Messages {
		if msg.JobID == "" {
			continue
		}
		if _, known := ts.jobs[msg.JobID]; !known {
			ts.jobs[msg.JobID] = &models.JobStatus{
				JobID: msg.JobID,
				State: models.JobPending,
			}
		}
	}
	ts.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (ts *TestServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeAPIError(w, http.StatusUnauthorized, models.ErrCodeAuth, "missing or invalid token")
		return
	}

	jobID := r.PathValue("jobID")

	ts.mu.Lock()
	ts.jobCalls[jobID]++
	calls := ts.jobCalls[jobID]

	if script, ok := ts.scripts[jobID]; ok && len(script) > 0 {
		idx := calls - 1
		if idx >= len(script) {
			idx = len(script) - 1
		}
		status := script[idx]
		ts.mu.Unlock()
		writeJSON(w, status)
		return
	}

	status, ok := ts.jobs[jobID]
	if ok && ts.autoCompleteAfter > 0 && calls >= ts.autoCompleteAfter && !status.State.Terminal() {
		status = &models.JobStatus{
			JobID:    jobID,
			State:    models.JobCompleted,
			Progress: 100,
			ImageIDs: ts.autoCompleteImages,
		}
		ts.jobs[jobID] = status
	}
	ts.mu.Unlock()

	if !ok {
		writeAPIError(w, http.StatusNotFound, models.ErrCodeNotFound, "job not found")
		return
	}

	writeJSON(w, status)
}

func (ts *TestServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		writeAPIError(w, http.StatusUnauthorized, models.ErrCodeAuth, "missing or invalid token")
		return
	}

	ts.mu.RLock()
	data, ok := ts.assets[r.PathValue("imageID")]
	ts.mu.RUnlock()

	if !ok {
		writeAPIError(w, http.StatusNotFound, models.ErrCodeNotFound, "asset not found")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

// handleFeed upgrades to a websocket, acknowledges the subscribe frame,
// pushes the queued frames and closes. Clients treat the close as the
// stream ending and fall back to polling.
func (ts *TestServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sub models.SubscribeMessage
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}

	ack, _ := json.Marshal(models.SubscribedResponse{Success: true})
	if err := conn.WriteJSON(models.FeedMessage{
		Type:      models.FeedTypeSubscribed,
		Timestamp: time.Now().UTC(),
		Data:      ack,
	}); err != nil {
		return
	}

	ts.mu.RLock()
	frames := append([]*models.FeedMessage(nil), ts.feeds[sub.ClientID]...)
	ts.mu.RUnlock()

	for _, frame := range frames {
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (ts *TestServer) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) {
		return false
	}

	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.tokens[header[len(prefix):]]
}

// NewFeedFrame wraps an event payload in a feed envelope.
func NewFeedFrame(msgType models.FeedMessageType, data interface{}) *models.FeedMessage {
	raw, _ := json.Marshal(data)
	return &models.FeedMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIError{
		Code:    code,
		Message: message,
	})
}
