package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scenergy/scenesync/internal/events"
	"github.com/scenergy/scenesync/internal/models"
)

// Default polling policy.
const (
	DefaultMaxPolls = 40
	DefaultInterval = 5 * time.Second
)

// Config configures a polling controller. C is the caller's per-job
// context struct, handed back unchanged on every callback.
type Config[C any] struct {
	// Fetch reads the job's remote status. Returning an error that
	// matches models.ErrJobNotFound takes the not-found path; any
	// other error takes the OnError path.
	Fetch func(ctx context.Context, jobID string, jc C) (*models.JobStatus, error)

	// OnStatus receives every fetched status. Returning false stops
	// the job. A terminal status stops the job regardless of the
	// return value. Nil means keep polling.
	OnStatus func(jobID string, status *models.JobStatus, jc C) bool

	// OnNotFound runs when the server does not know the job yet.
	// Returning false stops the job. Nil means keep polling.
	OnNotFound func(jobID string, jc C, polls int) bool

	// OnError observes fetch failures. Errors never stop a job on
	// their own.
	OnError func(jobID string, err error, jc C, polls int)

	// OnTimeout runs once when the job exhausts MaxPolls.
	OnTimeout func(jobID string, jc C)

	// Interval computes the delay before the next poll from the
	// number of polls done so far. Nil means a constant 5s.
	Interval func(polls int) time.Duration

	// MaxPolls caps how many fetches one job gets before OnTimeout.
	// The cap counts cycles, not elapsed time: large intervals need a
	// matching cap. Non-positive means DefaultMaxPolls.
	MaxPolls int

	// StartHidden parks new jobs until SetVisibility(true).
	StartHidden bool
}

// job is the tracked state for one id. active guards against
// overlapping fetches; cancel aborts an in-flight fetch on Stop.
type job[C any] struct {
	jc     C
	polls  int
	timer  *time.Timer
	active bool
	cancel context.CancelFunc
}

// Controller polls background jobs until they reach a terminal status,
// exhaust their poll budget, or are stopped. Distinct jobs poll
// concurrently; fetches for one id never overlap. When the host UI is
// hidden the timers are parked without losing job state.
type Controller[C any] struct {
	cfg    Config[C]
	logger *events.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*job[C]
	visible bool
}

// NewController creates a polling controller.
func NewController[C any](cfg Config[C], logger *events.Logger) (*Controller[C], error) {
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("fetch function is required")
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}
	if cfg.Interval == nil {
		cfg.Interval = func(int) time.Duration { return DefaultInterval }
	}
	if logger == nil {
		logger = events.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller[C]{
		cfg:     cfg,
		logger:  logger.WithField("component", "jobs"),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job[C]),
		visible: !cfg.StartHidden,
	}, nil
}

// Start begins polling jobID. An already tracked id is left alone.
// When the host is visible the first poll fires immediately; when
// hidden the job waits for visibility without polling.
func (c *Controller[C]) Start(jobID string, jc C) {
	c.mu.Lock()
	if _, ok := c.jobs[jobID]; ok {
		c.mu.Unlock()
		return
	}
	c.jobs[jobID] = &job[C]{jc: jc}
	visible := c.visible
	c.mu.Unlock()

	c.logger.WithField("job_id", jobID).Debug("job registered")

	if visible {
		go c.cycle(jobID)
	}
}

// Stop removes the job synchronously: the timer is stopped, an
// in-flight fetch is cancelled, and no further callbacks run for it.
// Safe to call from inside a callback. Unknown ids are ignored.
func (c *Controller[C]) Stop(jobID string) {
	c.mu.Lock()
	j, ok := c.jobs[jobID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.jobs, jobID)
	if j.timer != nil {
		j.timer.Stop()
	}
	cancel := j.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.WithField("job_id", jobID).Debug("job stopped")
}

// StopAll stops every tracked job.
func (c *Controller[C]) StopAll() {
	for _, id := range c.Tracked() {
		c.Stop(id)
	}
}

// Close stops all jobs and cancels any fetches still running.
func (c *Controller[C]) Close() {
	c.cancel()
	c.StopAll()
}

// SetVisibility parks or resumes the poll timers. Hiding clears every
// pending timer but keeps the jobs tracked; showing re-arms every
// parked job with its regular interval.
func (c *Controller[C]) SetVisibility(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.visible == visible {
		return
	}
	c.visible = visible

	if !visible {
		for _, j := range c.jobs {
			if j.timer != nil {
				j.timer.Stop()
				j.timer = nil
			}
		}
		return
	}

	for id, j := range c.jobs {
		if j.active || j.timer != nil {
			continue
		}
		c.armLocked(id, j)
	}
}

// IsTracked reports whether the job id is currently tracked.
func (c *Controller[C]) IsTracked(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[jobID]
	return ok
}

// Context returns the tracked job's context.
func (c *Controller[C]) Context(jobID string) (C, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[jobID]
	if !ok {
		var zero C
		return zero, false
	}
	return j.jc, true
}

// Tracked returns the tracked job ids, sorted.
func (c *Controller[C]) Tracked() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// armLocked schedules the job's next poll. Callers hold c.mu.
func (c *Controller[C]) armLocked(jobID string, j *job[C]) {
	delay := c.cfg.Interval(j.polls)
	j.timer = time.AfterFunc(delay, func() { c.cycle(jobID) })
}

// cycle runs one poll: enforce the poll cap, fetch, dispatch the
// result, and either stop or reschedule. A cycle that finds another
// fetch in flight for the same id backs off without doing anything.
func (c *Controller[C]) cycle(jobID string) {
	c.mu.Lock()
	j, ok := c.jobs[jobID]
	if !ok || j.active {
		c.mu.Unlock()
		return
	}
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}

	if j.polls >= c.cfg.MaxPolls {
		delete(c.jobs, jobID)
		jc := j.jc
		polls := j.polls
		c.mu.Unlock()

		c.logger.WithFields(map[string]interface{}{
			"job_id": jobID,
			"polls":  polls,
		}).Warn("job polling exhausted")

		if c.cfg.OnTimeout != nil {
			c.cfg.OnTimeout(jobID, jc)
		}
		return
	}

	j.active = true
	fetchCtx, cancel := context.WithCancel(c.ctx)
	j.cancel = cancel
	jc := j.jc
	c.mu.Unlock()

	status, err := c.cfg.Fetch(fetchCtx, jobID, jc)
	cancel()

	c.mu.Lock()
	j, ok = c.jobs[jobID]
	if !ok {
		// Stopped while the fetch was in flight; drop the result.
		c.mu.Unlock()
		return
	}
	j.active = false
	j.cancel = nil
	j.polls++
	polls := j.polls
	c.mu.Unlock()

	keep := true
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		if c.cfg.OnNotFound != nil {
			keep = c.cfg.OnNotFound(jobID, jc, polls)
		}

	case err != nil:
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"job_id": jobID,
			"polls":  polls,
		}).Warn("job status fetch failed")
		if c.cfg.OnError != nil {
			c.cfg.OnError(jobID, err, jc, polls)
		}

	default:
		if c.cfg.OnStatus != nil {
			keep = c.cfg.OnStatus(jobID, status, jc)
		}
		if status.State.Terminal() {
			keep = false
		}
	}

	if !keep {
		c.Stop(jobID)
		return
	}
	c.reschedule(jobID)
}

// reschedule arms the job's next timer unless it was stopped, another
// cycle took over, or the host is hidden.
func (c *Controller[C]) reschedule(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[jobID]
	if !ok || j.active || j.timer != nil || !c.visible {
		return
	}
	c.armLocked(jobID, j)
}
