// Package engine wires the renderq subsystems together and provides
// the application-level API: StartGeneration, GetJob, GetJobsForOwner,
// CancelJob, and Subscribe.
//
// An Engine is constructed once per process with injected collaborators
// (Generator, Storage, owner directory, clock) so unit tests can drive
// it with substitutable fakes instead of hidden module-level state.
package engine
