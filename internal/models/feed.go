package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// FeedMessageType defines live feed frame types.
type FeedMessageType string

const (
	// Client to server
	FeedTypeSubscribe FeedMessageType = "subscribe"
	FeedTypeHeartbeat FeedMessageType = "heartbeat"

	// Server to client
	FeedTypeSubscribed    FeedMessageType = "subscribed"
	FeedTypeJobUpdate     FeedMessageType = "job_update"
	FeedTypeSessionUpdate FeedMessageType = "session_update"
	FeedTypeError         FeedMessageType = "error"
	FeedTypePong          FeedMessageType = "pong"
)

// FeedMessage is the envelope for live feed frames.
type FeedMessage struct {
	Type      FeedMessageType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// SubscribeMessage opens a workspace feed.
type SubscribeMessage struct {
	Op       string `json:"op"` // "subscribe"
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
	Device   string `json:"device"`
}

// SubscribedResponse acknowledges a subscription.
type SubscribedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// JobUpdateEvent reports generation progress for a message's job.
type JobUpdateEvent struct {
	JobID     string    `json:"job_id"`
	ProductID string    `json:"product_id"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Status    JobStatus `json:"status"`
}

// SessionUpdateEvent carries a remotely changed session.
type SessionUpdateEvent struct {
	ProductID string   `json:"product_id"`
	Session   *Session `json:"session"`
}

// FeedErrorEvent reports a feed failure.
type FeedErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// ParseFeedMessage parses a raw feed frame.
func ParseFeedMessage(data []byte) (*FeedMessage, error) {
	var msg FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse feed message: %w", err)
	}
	return &msg, nil
}

// ParseFeedData parses the data field based on the frame type.
func ParseFeedData(msg *FeedMessage) (interface{}, error) {
	switch msg.Type {
	case FeedTypeSubscribed:
		var data SubscribedResponse
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("parse subscribed response: %w", err)
		}
		return &data, nil

	case FeedTypeJobUpdate:
		var data JobUpdateEvent
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("parse job update: %w", err)
		}
		return &data, nil

	case FeedTypeSessionUpdate:
		var data SessionUpdateEvent
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("parse session update: %w", err)
		}
		return &data, nil

	case FeedTypeError:
		var data FeedErrorEvent
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("parse error event: %w", err)
		}
		return &data, nil

	case FeedTypePong:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown feed message type: %s", msg.Type)
	}
}
