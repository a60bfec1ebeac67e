package models

import "time"

// JobStatus is the lifecycle state of a relay job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job tracks an asynchronous relay task.
type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    JobStatus `json:"status"`
	Text      string    `json:"text,omitempty"`
	Images    []string  `json:"images,omitempty"`
	Total     int       `json:"total,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Progress  int       `json:"progress"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
