package transport

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
)

// WSClient handles the live feed WebSocket.
type WSClient struct {
	url    string
	token  string
	logger *events.Logger

	// Connection state. The mutex also serializes writes; gorilla
	// allows only one concurrent writer.
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Channels
	messages chan *models.FeedMessage
	errors   chan error
	done     chan struct{}

	// Heartbeat. The server answers each heartbeat frame with a pong
	// frame, so any read refreshes the deadline.
	heartbeatInterval time.Duration
	readTimeout       time.Duration
}

// NewWSClient creates a feed client.
func NewWSClient(feedURL, token string, logger *events.Logger) *WSClient {
	if logger == nil {
		logger = events.Discard()
	}

	// If it's not already a WebSocket URL, convert http(s) to ws(s)
	if len(feedURL) > 4 && feedURL[:4] == "http" {
		feedURL = "ws" + feedURL[4:]
	}

	return &WSClient{
		url:               feedURL,
		token:             token,
		logger:            logger.WithField("component", "ws_client"),
		messages:          make(chan *models.FeedMessage, 100),
		errors:            make(chan error, 10),
		done:              make(chan struct{}),
		heartbeatInterval: 30 * time.Second,
		readTimeout:       40 * time.Second,
	}
}

// Connect establishes the WebSocket connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	c.logger.WithField("url", c.url).Info("Connecting to feed")

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.token)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	c.conn = conn
	c.closed = false

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Info("Feed connected")
	return nil
}

// Subscribe sends the workspace subscription frame.
func (c *WSClient) Subscribe(clientID string) error {
	msg := models.SubscribeMessage{
		Op:       "subscribe",
		Token:    c.token,
		ClientID: clientID,
		Device:   deviceName(),
	}

	c.logger.WithFields(map[string]interface{}{
		"client_id": clientID,
		"device":    msg.Device,
	}).Debug("Sending subscribe frame")

	if err := c.writeJSON(msg); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	return nil
}

// Messages returns the feed frame channel.
func (c *WSClient) Messages() <-chan *models.FeedMessage {
	return c.messages
}

// Errors returns the error channel.
func (c *WSClient) Errors() <-chan error {
	return c.errors
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		// Send close message
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

// writeJSON writes a frame while holding the connection mutex.
func (c *WSClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	return c.conn.WriteJSON(v)
}

// readLoop reads feed frames and forwards them to the message channel.
func (c *WSClient) readLoop() {
	defer func() {
		c.Close()
		close(c.messages)
		close(c.errors)
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.WithError(err).Error("Feed read error")
				c.errors <- err
			}
			return
		}

		msg, err := models.ParseFeedMessage(data)
		if err != nil {
			c.logger.WithError(err).Warn("Dropping malformed feed frame")
			continue
		}

		c.logger.WithField("type", string(msg.Type)).Debug("Received feed frame")

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop sends periodic heartbeat frames.
func (c *WSClient) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			c.logger.Debug("Sending heartbeat")

			frame := models.FeedMessage{
				Type:      models.FeedTypeHeartbeat,
				Timestamp: time.Now().UTC(),
			}
			if err := c.writeJSON(frame); err != nil {
				c.logger.WithError(err).Error("Heartbeat failed")
				return
			}

		case <-c.done:
			return
		}
	}
}

// deviceName identifies this client in the subscribe frame.
func deviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "scenesync"
}
