// Package job defines the core data model for image-generation jobs:
// the Job record and its lifecycle states, the immutable Request it
// carries, the Result it produces, and the Store contract that backs
// the queue and registry.
//
// A Job is created only by the engine (status Queued, progress 0). It is
// mutated exclusively by the dispatcher (Queued to Processing) and by the
// owning processor thereafter, or by cancellation while still Queued. Once
// terminal, a Job never changes state again.
package job
