package renderq

import "errors"

var (
	// Not found errors.
	ErrJobNotFound   = errors.New("renderq: job not found")
	ErrQueueEmpty    = errors.New("renderq: no queued jobs")
	ErrOwnerNotFound = errors.New("renderq: owner not found")

	// Request errors.
	ErrInvalidRequest = errors.New("renderq: invalid generation request")

	// State errors.
	ErrInvalidState   = errors.New("renderq: invalid state transition")
	ErrNotCancellable = errors.New("renderq: job is no longer cancellable")
	ErrTerminal       = errors.New("renderq: job already terminal")

	// Lifecycle errors.
	ErrAlreadyStarted = errors.New("renderq: engine already started")
	ErrNotStarted     = errors.New("renderq: engine not started")
	ErrNoGenerator    = errors.New("renderq: no generator configured")
	ErrNoStorage      = errors.New("renderq: no storage configured")
)

// CancelledByOwner is the terminal error message recorded on a job that
// was cancelled while still queued. Callers match on the job's Error
// string, so the text is part of the public contract.
const CancelledByOwner = "Cancelled by user"
