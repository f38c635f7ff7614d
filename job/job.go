package job

import (
	"time"

	"github.com/medusavr/renderq/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job is waiting in the pending queue.
	StatusQueued Status = "queued"
	// StatusProcessing means a processor is currently driving the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished with a usable result.
	StatusCompleted Status = "completed"
	// StatusFailed means the job terminated without a result.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents one owner's request to produce one or more images.
type Job struct {
	ID      id.JobID `json:"id"`
	OwnerID string   `json:"owner_id"`
	Status  Status   `json:"status"`

	// Progress is in [0,100] and never decreases while the job is
	// live. It reaches 100 only together with a terminal status.
	Progress int `json:"progress"`

	// Request is immutable once the job is created.
	Request Request `json:"request"`

	// Result is set iff Status is StatusCompleted.
	Result *Result `json:"result,omitempty"`

	// Error is set iff Status is StatusFailed. It carries a coarse
	// human-readable message, never backend diagnostics.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// EstimatedTimeRemaining is a best-effort hint for UI countdowns.
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool { return j.Status.Terminal() }

// AdvanceProgress raises Progress to p, clamped to [0,100]. Progress
// never moves backwards; a lower p is ignored.
func (j *Job) AdvanceProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// Clone returns a deep copy safe to hand to event subscribers and API
// callers while the owning processor keeps mutating the original.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Result != nil {
		cp.Result = j.Result.clone()
	}
	cp.Request = j.Request.clone()
	return &cp
}
