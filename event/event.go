// Package event provides the lifecycle event bus for the orchestrator.
// Components publish job lifecycle notifications to named topics;
// downstream consumers subscribe either with handler callbacks or with
// buffered channel subscribers suitable for streaming transports.
package event

import (
	"time"

	"github.com/medusavr/renderq/job"
)

// Topic identifies a job lifecycle event stream.
type Topic string

const (
	// TopicJobCreated fires once when a job is enqueued.
	TopicJobCreated Topic = "job.created"
	// TopicJobUpdated fires on every progress or status change.
	TopicJobUpdated Topic = "job.updated"
	// TopicJobCompleted fires exactly once, after the job reached
	// StatusCompleted and its result was persisted.
	TopicJobCompleted Topic = "job.completed"
	// TopicJobFailed fires exactly once, after the job reached
	// StatusFailed.
	TopicJobFailed Topic = "job.failed"
)

// Topics lists every topic the bus publishes, in lifecycle order.
func Topics() []Topic {
	return []Topic{TopicJobCreated, TopicJobUpdated, TopicJobCompleted, TopicJobFailed}
}

// Event is the envelope delivered to channel subscribers.
type Event struct {
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"ts"`

	// Job is a snapshot taken at publish time. Terminal snapshots
	// carry final Result or Error fields; subscribers must tolerate
	// receiving an already-final job.
	Job *job.Job `json:"job"`
}
