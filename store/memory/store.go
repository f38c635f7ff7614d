// Package memory provides a fully in-memory job.Store: a concurrency-safe
// job registry plus a FIFO pending queue. It is the production store for
// single-process deployments and the fixture for unit tests; jobs do not
// survive a restart by design.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/medusavr/renderq"
	"github.com/medusavr/renderq/id"
	"github.com/medusavr/renderq/job"
)

// Ensure Store implements job.Store at compile time.
var _ job.Store = (*Store)(nil)

// Store holds the job registry and the ordered pending id list.
// All reads return copies so callers never observe concurrent mutation.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*job.Job
	pending []id.JobID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// Enqueue persists a new job and appends it to the pending queue tail.
func (m *Store) Enqueue(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return renderq.ErrInvalidState
	}
	m.jobs[key] = j.Clone()
	m.pending = append(m.pending, j.ID)
	return nil
}

// DequeueNext atomically pops the queue head, marks it Processing, and
// returns a copy. Concurrent dequeues never return the same id.
func (m *Store) DequeueNext(_ context.Context) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.pending) > 0 {
		head := m.pending[0]
		m.pending = m.pending[1:]

		j, ok := m.jobs[head.String()]
		if !ok || j.Status != job.StatusQueued {
			// Cancelled or reaped between enqueue and dispatch.
			continue
		}
		j.Status = job.StatusProcessing
		j.UpdatedAt = time.Now().UTC()
		return j.Clone(), nil
	}
	return nil, renderq.ErrQueueEmpty
}

// Get retrieves a copy of a job by id.
func (m *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, renderq.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListByOwner returns the owner's jobs sorted by CreatedAt descending.
func (m *Store) ListByOwner(_ context.Context, ownerID string) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.OwnerID == ownerID {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return result, nil
}

// Update persists changes to an existing job.
func (m *Store) Update(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return renderq.ErrJobNotFound
	}
	cp := j.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = cp
	return nil
}

// Delete removes a job and its pending queue entry if any.
func (m *Store) Delete(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return renderq.ErrJobNotFound
	}
	delete(m.jobs, key)
	m.pending = slices.DeleteFunc(m.pending, func(p id.JobID) bool {
		return p.String() == key
	})
	return nil
}

// CancelQueued removes a still-queued job from the pending list and
// marks it Failed with the cancellation message, all under one lock so
// a concurrent dispatch cannot claim it halfway through.
func (m *Store) CancelQueued(_ context.Context, jobID id.JobID, ownerID string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.OwnerID != ownerID {
		return nil, renderq.ErrJobNotFound
	}
	if j.Status != job.StatusQueued {
		return nil, renderq.ErrNotCancellable
	}

	m.pending = slices.DeleteFunc(m.pending, func(p id.JobID) bool {
		return p.String() == jobID.String()
	})

	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.Error = renderq.CancelledByOwner
	j.CompletedAt = &now
	j.UpdatedAt = now
	return j.Clone(), nil
}

// CountProcessing returns the number of jobs currently Processing.
func (m *Store) CountProcessing(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, j := range m.jobs {
		if j.Status == job.StatusProcessing {
			count++
		}
	}
	return count, nil
}

// Sweep removes terminal jobs whose CompletedAt is before cutoff.
func (m *Store) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, j := range m.jobs {
		if !j.Terminal() || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.Before(cutoff) {
			delete(m.jobs, key)
			removed++
		}
	}
	return removed, nil
}

// PendingLen reports the current queue depth. Used by stats and tests.
func (m *Store) PendingLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}
