package models

import "time"

// JobState tracks a generation job through its lifecycle.
type JobState string

const (
	JobPending    JobState = "pending"
	JobGenerating JobState = "generating"
	JobCompleted  JobState = "completed"
	JobError      JobState = "error"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// JobStatus is the server's view of a generation job.
type JobStatus struct {
	JobID    string   `json:"job_id"`
	State    JobState `json:"state"`
	Progress int      `json:"progress"`
	ImageIDs []string `json:"image_ids,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// MessagePatch is a partial message update. Nil fields are left alone.
type MessagePatch struct {
	Content  *string
	Status   *JobState
	Progress *int
	ImageIDs []string
	Error    *string
}

// Apply merges the patch into msg and bumps its UpdatedAt.
func (p MessagePatch) Apply(msg *Message) {
	if p.Content != nil {
		msg.Content = NormalizeText(*p.Content)
	}
	if p.Status != nil {
		msg.Status = *p.Status
	}
	if p.Progress != nil {
		msg.Progress = *p.Progress
	}
	if p.ImageIDs != nil {
		msg.ImageIDs = append([]string(nil), p.ImageIDs...)
	}
	if p.Error != nil {
		msg.Error = *p.Error
	}
	msg.UpdatedAt = time.Now().UTC()
}

// IsZero reports whether the patch changes nothing.
func (p MessagePatch) IsZero() bool {
	return p.Content == nil && p.Status == nil && p.Progress == nil &&
		p.ImageIDs == nil && p.Error == nil
}

// PatchFromJob converts a polled job status into a message patch.
func PatchFromJob(st *JobStatus) MessagePatch {
	state := st.State
	progress := st.Progress

	patch := MessagePatch{
		Status:   &state,
		Progress: &progress,
	}
	if len(st.ImageIDs) > 0 {
		patch.ImageIDs = st.ImageIDs
	}
	if st.Error != "" {
		errText := st.Error
		patch.Error = &errText
	}
	return patch
}
