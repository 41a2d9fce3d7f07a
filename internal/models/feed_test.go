package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenergy/scenesync/internal/models"
)

func TestParseFeedMessage(t *testing.T) {
	raw := []byte(`{
		"type": "job_update",
		"timestamp": "2026-08-20T10:00:00Z",
		"data": {
			"job_id": "job-1",
			"product_id": "prod-1",
			"session_id": "sess-1",
			"message_id": "msg-1",
			"status": {"job_id": "job-1", "state": "generating", "progress": 55}
		}
	}`)

	msg, err := models.ParseFeedMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FeedTypeJobUpdate, msg.Type)

	data, err := models.ParseFeedData(msg)
	require.NoError(t, err)

	update, ok := data.(*models.JobUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "job-1", update.JobID)
	assert.Equal(t, "msg-1", update.MessageID)
	assert.Equal(t, models.JobGenerating, update.Status.State)
	assert.Equal(t, 55, update.Status.Progress)
}

func TestParseFeedMessageInvalidJSON(t *testing.T) {
	_, err := models.ParseFeedMessage([]byte(`{not json`))
	assert.Error(t, err)
}

func TestParseFeedDataSessionUpdate(t *testing.T) {
	msg := &models.FeedMessage{
		Type: models.FeedTypeSessionUpdate,
		Data: []byte(`{"product_id": "prod-1", "session": {"id": "sess-1", "title": "Remote edit", "messages": []}}`),
	}

	data, err := models.ParseFeedData(msg)
	require.NoError(t, err)

	update, ok := data.(*models.SessionUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "prod-1", update.ProductID)
	assert.Equal(t, "Remote edit", update.Session.Title)
}

func TestParseFeedDataError(t *testing.T) {
	msg := &models.FeedMessage{
		Type: models.FeedTypeError,
		Data: []byte(`{"code": "RATE_LIMIT", "message": "slow down", "fatal": false}`),
	}

	data, err := models.ParseFeedData(msg)
	require.NoError(t, err)

	feedErr, ok := data.(*models.FeedErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "RATE_LIMIT", feedErr.Code)
	assert.False(t, feedErr.Fatal)
}

func TestParseFeedDataUnknownType(t *testing.T) {
	msg := &models.FeedMessage{Type: "mystery"}

	_, err := models.ParseFeedData(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown feed message type")
}

func TestParseFeedDataPong(t *testing.T) {
	msg := &models.FeedMessage{Type: models.FeedTypePong}

	data, err := models.ParseFeedData(msg)
	require.NoError(t, err)
	assert.Nil(t, data)
}
