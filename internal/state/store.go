// Package state persists workspace snapshots between CLI runs so a
// restart can resume from the last-known tree and re-attach to jobs
// that were still rendering.
package state

import (
	"errors"
	"time"

	"github.com/scenergy/scenesync/internal/models"
)

// Store persists workspace snapshots keyed by client ID.
type Store interface {
	// Load retrieves the snapshot for a client.
	Load(clientID string) (*Snapshot, error)

	// Save persists the snapshot for a client.
	Save(clientID string, snap *Snapshot) error

	// Reset removes the snapshot for a client.
	Reset(clientID string) error

	// List returns all client IDs with a stored snapshot.
	List() ([]string, error)

	// Close releases resources.
	Close() error
}

// Store errors.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotCorrupt  = errors.New("snapshot corrupt")
)

// CurrentSchemaVersion is written alongside every snapshot so future
// releases can detect and migrate old layouts.
const CurrentSchemaVersion = 1

// Snapshot is the persisted view of one client workspace: the tree as
// last fetched plus any generation jobs that had not finished.
type Snapshot struct {
	Client      *models.Client `json:"client"`
	FetchedAt   time.Time      `json:"fetched_at"`
	PendingJobs []PendingJob   `json:"pending_jobs,omitempty"`
}

// PendingJob records an in-flight generation job and the message it
// will patch, so polling can resume after a restart.
type PendingJob struct {
	JobID     string    `json:"job_id"`
	ClientID  string    `json:"client_id"`
	ProductID string    `json:"product_id"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AddPendingJob records a job, replacing any existing entry with the
// same job ID.
func (s *Snapshot) AddPendingJob(job PendingJob) {
	for i, existing := range s.PendingJobs {
		if existing.JobID == job.JobID {
			s.PendingJobs[i] = job
			return
		}
	}
	s.PendingJobs = append(s.PendingJobs, job)
}

// RemovePendingJob drops a job once it has reached a terminal state.
// Removing an unknown job is a no-op.
func (s *Snapshot) RemovePendingJob(jobID string) {
	kept := s.PendingJobs[:0]
	for _, job := range s.PendingJobs {
		if job.JobID != jobID {
			kept = append(kept, job)
		}
	}
	s.PendingJobs = kept
}

// PendingJob finds a pending job by ID.
func (s *Snapshot) PendingJob(jobID string) (PendingJob, bool) {
	for _, job := range s.PendingJobs {
		if job.JobID == jobID {
			return job, true
		}
	}
	return PendingJob{}, false
}
