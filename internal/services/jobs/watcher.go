package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
	"github.com/scenergy/scenesync/internal/services/sync"
)

// MessageJob locates the assistant message a generation job feeds.
type MessageJob struct {
	ClientID  string
	ProductID string
	SessionID string
	MessageID string
}

// StatusFetcher reads one generation job's remote status.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
}

// FeedSource streams live workspace events for one client.
type FeedSource interface {
	StreamFeed(ctx context.Context, clientID string) (<-chan *models.FeedMessage, error)
}

// WatcherConfig tunes the watcher's polling schedule.
type WatcherConfig struct {
	Interval time.Duration
	MaxPolls int
}

// Watcher drives generation jobs for assistant messages. Every polled
// status lands in the local tree through the sync service, so the
// message the UI shows follows the job's progress without extra
// plumbing at the call sites.
type Watcher struct {
	controller *Controller[MessageJob]
	syncSvc    *sync.Service
	root       func() *models.Client
	logger     *events.Logger

	// OnSessionUpdate receives live session frames. Set it before
	// calling WatchLive; when nil the frames are dropped.
	OnSessionUpdate func(clientID string, ev *models.SessionUpdateEvent)
}

// NewWatcher creates a watcher polling fetcher and applying updates
// through svc.
func NewWatcher(fetcher StatusFetcher, svc *sync.Service, root func() *models.Client, cfg *WatcherConfig, logger *events.Logger) (*Watcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("status fetcher is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("sync service is required")
	}
	if root == nil {
		return nil, fmt.Errorf("read state callback is required")
	}
	if logger == nil {
		logger = events.Discard()
	}

	w := &Watcher{
		syncSvc: svc,
		root:    root,
		logger:  logger.WithField("component", "watcher"),
	}

	pollCfg := Config[MessageJob]{
		Fetch: func(ctx context.Context, jobID string, _ MessageJob) (*models.JobStatus, error) {
			return fetcher.JobStatus(ctx, jobID)
		},
		OnStatus:   w.applyStatus,
		OnNotFound: w.stillWaiting,
		OnTimeout:  w.markTimedOut,
	}
	if cfg != nil {
		pollCfg.MaxPolls = cfg.MaxPolls
		if cfg.Interval > 0 {
			interval := cfg.Interval
			pollCfg.Interval = func(int) time.Duration { return interval }
		}
	}

	controller, err := NewController(pollCfg, logger)
	if err != nil {
		return nil, err
	}
	w.controller = controller

	return w, nil
}

// Watch starts polling a generation job. Tracked ids are left alone.
func (w *Watcher) Watch(jobID string, mj MessageJob) {
	w.controller.Start(jobID, mj)
}

// Stop stops watching one job.
func (w *Watcher) Stop(jobID string) {
	w.controller.Stop(jobID)
}

// StopAll stops watching every job.
func (w *Watcher) StopAll() {
	w.controller.StopAll()
}

// SetVisibility parks or resumes polling with the UI's visibility.
func (w *Watcher) SetVisibility(visible bool) {
	w.controller.SetVisibility(visible)
}

// Watching returns the tracked job ids, sorted.
func (w *Watcher) Watching() []string {
	return w.controller.Tracked()
}

// Close stops all jobs and aborts in-flight fetches.
func (w *Watcher) Close() {
	w.controller.Close()
}

// applyStatus folds one polled status into the message it belongs to.
// Apply failures are logged and polling continues; the next poll gets
// another chance.
func (w *Watcher) applyStatus(jobID string, status *models.JobStatus, mj MessageJob) bool {
	patch := models.PatchFromJob(status)
	err := w.syncSvc.UpdateMessageInSession(context.Background(), w.root, mj.ClientID, mj.ProductID, mj.SessionID, mj.MessageID, patch)
	if err != nil {
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"job_id":     jobID,
			"message_id": mj.MessageID,
		}).Warn("job update not applied")
	}
	return true
}

// stillWaiting keeps polling jobs the server has not registered yet.
// The poll cap bounds how long that patience lasts.
func (w *Watcher) stillWaiting(jobID string, _ MessageJob, polls int) bool {
	w.logger.WithFields(map[string]interface{}{
		"job_id": jobID,
		"polls":  polls,
	}).Debug("job not known to server yet")
	return true
}

// markTimedOut flags the message as failed when the poll budget runs
// out without a terminal status.
func (w *Watcher) markTimedOut(jobID string, mj MessageJob) {
	state := models.JobError
	errText := "generation timed out"
	patch := models.MessagePatch{Status: &state, Error: &errText}

	err := w.syncSvc.UpdateMessageInSession(context.Background(), w.root, mj.ClientID, mj.ProductID, mj.SessionID, mj.MessageID, patch)
	if err != nil {
		w.logger.WithError(err).WithField("job_id", jobID).Warn("timeout status not applied")
	}
}

// WatchLive consumes the client's websocket feed and applies job
// updates as they arrive, parking the poll timers while the stream
// lasts. When the stream ends or ctx is cancelled the timers resume,
// so polling remains the fallback. Blocks until the stream is done.
func (w *Watcher) WatchLive(ctx context.Context, feed FeedSource, clientID string) error {
	msgs, err := feed.StreamFeed(ctx, clientID)
	if err != nil {
		return fmt.Errorf("open live feed: %w", err)
	}

	w.controller.SetVisibility(false)
	defer w.controller.SetVisibility(true)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Info("live feed ended, resuming polls")
				return nil
			}
			w.handleFeedMessage(clientID, msg)
		}
	}
}

// handleFeedMessage applies one live frame. Job updates land on their
// messages; session updates are handed to OnSessionUpdate.
func (w *Watcher) handleFeedMessage(clientID string, msg *models.FeedMessage) {
	data, err := models.ParseFeedData(msg)
	if err != nil {
		w.logger.WithError(err).Warn("malformed feed frame")
		return
	}

	switch ev := data.(type) {
	case *models.SessionUpdateEvent:
		if w.OnSessionUpdate != nil {
			w.OnSessionUpdate(clientID, ev)
		}

	case *models.FeedErrorEvent:
		w.logger.WithFields(map[string]interface{}{
			"code":  ev.Code,
			"fatal": ev.Fatal,
		}).Warn(ev.Message)

	case *models.JobUpdateEvent:
		mj, ok := w.jobContext(clientID, ev)
		if !ok {
			w.logger.WithField("job_id", ev.JobID).Debug("update for unwatched job")
			return
		}

		w.applyStatus(ev.JobID, &ev.Status, mj)

		if ev.Status.State.Terminal() {
			w.controller.Stop(ev.JobID)
		}
	}
}

// jobContext resolves the message coordinates for a live update,
// preferring the tracked context over the event's own fields.
func (w *Watcher) jobContext(clientID string, ev *models.JobUpdateEvent) (MessageJob, bool) {
	if mj, ok := w.controller.Context(ev.JobID); ok {
		return mj, true
	}

	if ev.ProductID == "" || ev.SessionID == "" || ev.MessageID == "" {
		return MessageJob{}, false
	}
	return MessageJob{
		ClientID:  clientID,
		ProductID: ev.ProductID,
		SessionID: ev.SessionID,
		MessageID: ev.MessageID,
	}, true
}
