package job

import (
	"context"
	"time"

	"github.com/medusavr/renderq/id"
)

// Store is the contract for the job registry and its FIFO pending
// queue. Implementations must be safe for concurrent use: API readers
// run against the same store the dispatcher and processors mutate.
type Store interface {
	// Enqueue persists a new job and appends its id to the pending
	// queue tail.
	Enqueue(ctx context.Context, j *Job) error

	// DequeueNext atomically pops the pending queue head, marks the
	// job Processing, and returns a copy. No job id is ever returned
	// twice by concurrent dequeues. Returns ErrQueueEmpty when no job
	// is pending.
	DequeueNext(ctx context.Context) (*Job, error)

	// Get retrieves a copy of a job by id.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListByOwner returns copies of the owner's jobs sorted by
	// CreatedAt descending, independent of completion order.
	ListByOwner(ctx context.Context, ownerID string) ([]*Job, error)

	// Update persists changes to an existing job.
	Update(ctx context.Context, j *Job) error

	// Delete removes a job unconditionally, including its pending
	// queue entry if any. Administrative escape hatch; routine
	// cleanup goes through Sweep.
	Delete(ctx context.Context, jobID id.JobID) error

	// CancelQueued atomically removes a still-queued job from the
	// pending queue and marks it Failed with the cancellation
	// message. Returns ErrNotCancellable if the job has already been
	// dispatched or is terminal, ErrJobNotFound if the id or owner
	// does not match.
	CancelQueued(ctx context.Context, jobID id.JobID, ownerID string) (*Job, error)

	// CountProcessing returns the number of jobs currently in
	// StatusProcessing.
	CountProcessing(ctx context.Context) (int, error)

	// Sweep removes terminal jobs whose CompletedAt is before cutoff
	// and returns how many were removed. Non-terminal jobs are never
	// touched.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
