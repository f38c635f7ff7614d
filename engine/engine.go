package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/medusavr/renderq"
	"github.com/medusavr/renderq/event"
	"github.com/medusavr/renderq/generate"
	"github.com/medusavr/renderq/id"
	"github.com/medusavr/renderq/job"
	"github.com/medusavr/renderq/store/memory"
	"github.com/medusavr/renderq/upload"
	"github.com/medusavr/renderq/worker"
)

// Engine is the generation job orchestrator. Construct one with New
// and the options below, then Start it.
type Engine struct {
	cfg    renderq.Config
	logger *slog.Logger
	clock  renderq.Clock

	store       job.Store
	bus         *event.Bus
	generator   generate.Generator
	storage     upload.Storage
	owners      upload.OwnerDirectory
	placeholder generate.PlaceholderFunc

	pipeline   *generate.Pipeline
	uploads    *upload.Pipeline
	processor  *worker.Processor
	dispatcher *worker.Dispatcher
	reaper     *worker.Reaper

	mu      sync.Mutex
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the full config. Defaults come from
// renderq.DefaultConfig.
func WithConfig(cfg renderq.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithConcurrency sets the maximum number of concurrently processing
// jobs.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cfg.MaxConcurrentJobs = n
		}
	}
}

// WithStore sets the job store. Defaults to the in-memory store.
func WithStore(s job.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithGenerator sets the generation backend client.
func WithGenerator(g generate.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithStorage sets the durable storage client.
func WithStorage(s upload.Storage) Option {
	return func(e *Engine) { e.storage = s }
}

// WithOwnerDirectory sets the owner display-name resolver used for
// storage destination keys.
func WithOwnerDirectory(d upload.OwnerDirectory) Option {
	return func(e *Engine) { e.owners = d }
}

// WithPlaceholder overrides the deterministic placeholder collaborator.
func WithPlaceholder(fn generate.PlaceholderFunc) Option {
	return func(e *Engine) { e.placeholder = fn }
}

// WithClock injects a clock for deterministic tests.
func WithClock(c renderq.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger for the engine and all subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. A Generator and Storage collaborator are
// required; everything else has working defaults.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    renderq.DefaultConfig(),
		clock:  renderq.RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.generator == nil {
		return nil, renderq.ErrNoGenerator
	}
	if e.storage == nil {
		return nil, renderq.ErrNoStorage
	}
	if e.store == nil {
		e.store = memory.New()
	}
	if e.bus == nil {
		e.bus = event.NewBus(e.logger)
	}

	pipeOpts := []generate.Option{generate.WithStageTimeout(e.cfg.StageTimeout)}
	if e.placeholder != nil {
		pipeOpts = append(pipeOpts, generate.WithPlaceholder(e.placeholder))
	}
	e.pipeline = generate.New(e.generator, e.logger, pipeOpts...)

	e.uploads = upload.NewPipeline(e.storage, e.owners, e.logger,
		upload.WithMaxRetries(e.cfg.UploadMaxRetries),
	)

	e.processor = worker.NewProcessor(e.store, e.pipeline, e.uploads, e.bus, e.clock, e.logger,
		worker.WithInterUploadDelay(e.cfg.InterUploadDelay),
	)

	e.dispatcher = worker.NewDispatcher(e.store, e.processor, e.clock, e.logger,
		worker.WithDispatchInterval(e.cfg.DispatchInterval),
		worker.WithMaxConcurrent(e.cfg.MaxConcurrentJobs),
		worker.WithRateLimit(e.cfg.GeneratorRate),
	)

	reaper, err := worker.NewReaper(e.store, e.clock, e.cfg.ReaperSchedule, e.logger,
		worker.WithRetention(e.cfg.RetentionWindow),
	)
	if err != nil {
		return nil, err
	}
	e.reaper = reaper

	return e, nil
}

// Start launches the dispatcher and reaper loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return renderq.ErrAlreadyStarted
	}
	if err := e.dispatcher.Start(ctx); err != nil {
		return err
	}
	if err := e.reaper.Start(ctx); err != nil {
		return err
	}
	e.started = true

	e.logger.Info("engine started",
		slog.Int("max_concurrent_jobs", e.cfg.MaxConcurrentJobs),
		slog.Duration("retention", e.cfg.RetentionWindow),
	)
	return nil
}

// Stop shuts down gracefully, waiting for in-flight jobs up to the
// configured shutdown timeout.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := e.reaper.Stop(ctx); err != nil {
		return err
	}
	return e.dispatcher.Stop(ctx)
}

// StartGeneration validates the request, creates a Queued job, and
// returns its id immediately. It never blocks on generation.
func (e *Engine) StartGeneration(ctx context.Context, ownerID string, req job.Request) (id.JobID, error) {
	if ownerID == "" {
		return id.Nil, fmt.Errorf("%w: owner id required", renderq.ErrInvalidRequest)
	}

	normalize(&req)
	if err := req.Validate(); err != nil {
		return id.Nil, err
	}

	now := e.clock.Now()
	j := &job.Job{
		ID:        id.NewJobID(),
		OwnerID:   ownerID,
		Status:    job.StatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.Enqueue(ctx, j); err != nil {
		return id.Nil, err
	}
	e.bus.Publish(ctx, event.TopicJobCreated, j)

	e.logger.Info("job queued",
		slog.String("job_id", j.ID.String()),
		slog.String("owner_id", ownerID),
		slog.Int("quantity", req.Quantity),
	)
	return j.ID, nil
}

// GetJob retrieves a job by id.
func (e *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.store.Get(ctx, jobID)
}

// GetJobsForOwner returns the owner's jobs sorted by CreatedAt
// descending, independent of completion order.
func (e *Engine) GetJobsForOwner(ctx context.Context, ownerID string) ([]*job.Job, error) {
	return e.store.ListByOwner(ctx, ownerID)
}

// CancelJob cancels a still-queued job. It reports true iff the job
// was Queued at call time; Processing and terminal jobs are left
// untouched.
func (e *Engine) CancelJob(ctx context.Context, jobID id.JobID, ownerID string) bool {
	j, err := e.store.CancelQueued(ctx, jobID, ownerID)
	if err != nil {
		return false
	}

	e.bus.Publish(ctx, event.TopicJobUpdated, j)
	e.bus.Publish(ctx, event.TopicJobFailed, j)

	e.logger.Info("job cancelled",
		slog.String("job_id", jobID.String()),
		slog.String("owner_id", ownerID),
	)
	return true
}

// Subscribe registers a handler for a lifecycle topic.
func (e *Engine) Subscribe(topic event.Topic, h event.Handler) {
	e.bus.Subscribe(topic, h)
}

// SubscribeChan creates a buffered channel subscriber on the given
// topics. The caller must Close it when done.
func (e *Engine) SubscribeChan(topics ...event.Topic) *event.Subscriber {
	return e.bus.SubscribeChan(topics...)
}

// Bus exposes the event bus for extensions.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Store exposes the job store for read-side surfaces.
func (e *Engine) Store() job.Store { return e.store }

// Sweep runs a retention sweep immediately, outside the reaper's
// schedule.
func (e *Engine) Sweep(ctx context.Context) { e.reaper.Sweep(ctx) }

// normalize fills request defaults before validation.
func normalize(req *job.Request) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Steps == 0 {
		req.Steps = 30
	}
}
