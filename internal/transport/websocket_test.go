package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenergy/scenesync/internal/config"
	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
	"github.com/scenergy/scenesync/internal/transport"
)

func newFeedAPI(t *testing.T, handler http.Handler) transport.API {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.APIConfig{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		UserAgent:  "scenesync-test",
	}

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.ErrorLevel, "json", &buf)

	api := transport.NewAPI(cfg, logger)
	t.Cleanup(func() { _ = api.Close() })

	return api
}

func writeFrame(t *testing.T, conn *websocket.Conn, frameType models.FeedMessageType, data string) {
	t.Helper()

	frame := models.FeedMessage{
		Type:      frameType,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(data),
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func nextFrame(t *testing.T, frames <-chan *models.FeedMessage) *models.FeedMessage {
	t.Helper()

	select {
	case frame, ok := <-frames:
		require.True(t, ok, "feed channel closed early")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for feed frame")
		return nil
	}
}

func TestStreamFeedDeliversFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	api := newFeedAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clients/c1/feed", r.URL.Path)
		assert.Equal(t, "Bearer tok-feed", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub models.SubscribeMessage
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "subscribe", sub.Op)
		assert.Equal(t, "tok-feed", sub.Token)
		assert.Equal(t, "c1", sub.ClientID)
		assert.NotEmpty(t, sub.Device)

		writeFrame(t, conn, models.FeedTypeSubscribed, `{"success":true}`)
		writeFrame(t, conn, models.FeedTypeJobUpdate, `{
			"job_id": "job-1",
			"product_id": "p1",
			"session_id": "s1",
			"message_id": "m1",
			"status": {"job_id":"job-1","state":"completed","progress":100,"image_ids":["img-1"]}
		}`)
	}))
	api.SetToken("tok-feed")

	frames, err := api.StreamFeed(context.Background(), "c1")
	require.NoError(t, err)

	ack := nextFrame(t, frames)
	assert.Equal(t, models.FeedTypeSubscribed, ack.Type)

	update := nextFrame(t, frames)
	require.Equal(t, models.FeedTypeJobUpdate, update.Type)

	parsed, err := models.ParseFeedData(update)
	require.NoError(t, err)

	ev, ok := parsed.(*models.JobUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "job-1", ev.JobID)
	assert.Equal(t, "m1", ev.MessageID)
	assert.Equal(t, models.JobCompleted, ev.Status.State)
	assert.Equal(t, []string{"img-1"}, ev.Status.ImageIDs)

	// Server handler returned, so the channel drains and closes.
	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed channel did not close")
	}
}

func TestStreamFeedReplacesPreviousStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	api := newFeedAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub models.SubscribeMessage
		require.NoError(t, conn.ReadJSON(&sub))

		writeFrame(t, conn, models.FeedTypeSubscribed, `{"success":true}`)

		// Hold the connection open until the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	api.SetToken("tok-feed")

	ctx := context.Background()

	first, err := api.StreamFeed(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.FeedTypeSubscribed, nextFrame(t, first).Type)

	second, err := api.StreamFeed(ctx, "c1")
	require.NoError(t, err)

	// Opening the second stream closes the first.
	select {
	case _, ok := <-first:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("first feed channel did not close")
	}

	assert.Equal(t, models.FeedTypeSubscribed, nextFrame(t, second).Type)
}

func TestStreamFeedRequiresClientID(t *testing.T) {
	api := newFeedAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := api.StreamFeed(context.Background(), "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "client ID is required")
}

func TestStreamFeedConnectFailure(t *testing.T) {
	cfg := &config.APIConfig{
		BaseURL:    "http://127.0.0.1:1",
		Timeout:    time.Second,
		MaxRetries: 1,
		UserAgent:  "scenesync-test",
	}

	api := transport.NewAPI(cfg, events.Discard())

	_, err := api.StreamFeed(context.Background(), "c1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect feed")
}

func TestWSClientCloseIdempotent(t *testing.T) {
	client := transport.NewWSClient("ws://127.0.0.1:1/feed", "tok", events.Discard())

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	err := client.Subscribe("c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
