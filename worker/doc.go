// Package worker drives jobs from the queue to a terminal state. The
// Dispatcher admits queued jobs under the concurrency cap on a fixed
// tick; each admitted job is owned by a Processor run that walks the
// generation and upload pipelines and emits lifecycle events; the
// Reaper removes old terminal jobs on its own schedule.
//
// Exactly one goroutine owns mutation of a given job at any time: the
// dispatcher performs the Queued to Processing transition (inside the
// store's atomic dequeue), the processor owns everything after.
package worker
