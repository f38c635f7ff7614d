// Package renderq provides an asynchronous image-generation job orchestrator
// for companion chat products. It accepts generation requests, queues them
// under a concurrency cap, drives each job through a multi-stage fallback
// pipeline (character-conditioned generation, generic generation,
// deterministic placeholder), persists results through a retrying upload
// pipeline, and publishes lifecycle events.
//
// renderq is designed as a library, not a service. Construct an engine with
// injected collaborators and start it:
//
//	eng, err := engine.New(
//	    engine.WithGenerator(genClient),
//	    engine.WithStorage(storageClient),
//	    engine.WithConcurrency(3),
//	)
//
// # Architecture
//
// Each subsystem lives in its own package: job (data model and store
// contract), store/memory (in-process job store and FIFO queue), generate
// (fallback generation pipeline), upload (retrying upload pipeline), worker
// (per-job processor, dispatcher, reaper), event (lifecycle bus), and
// engine (public API wiring it all together).
//
// Every job reaches a terminal state. Generator backend failures drive the
// fallback chain, never the job to Failed; only validation errors, explicit
// cancellation, or true infrastructure faults fail a job.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package renderq
