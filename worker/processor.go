package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/medusavr/renderq"
	"github.com/medusavr/renderq/event"
	"github.com/medusavr/renderq/generate"
	"github.com/medusavr/renderq/id"
	"github.com/medusavr/renderq/job"
	"github.com/medusavr/renderq/upload"
)

// DefaultBaseEstimate seeds the estimated-time-remaining hint when a
// job enters Processing.
const DefaultBaseEstimate = 45 * time.Second

// DefaultInterUploadDelay spaces sequential batch uploads.
const DefaultInterUploadDelay = 500 * time.Millisecond

// Processor drives one job through generation and upload to a terminal
// state. A single Processor is shared by all dispatched jobs; per-job
// state lives entirely on the job record it owns for the duration of
// Run.
type Processor struct {
	store    job.Store
	pipeline *generate.Pipeline
	uploads  *upload.Pipeline
	bus      *event.Bus
	clock    renderq.Clock
	logger   *slog.Logger

	interUploadDelay time.Duration
	baseEstimate     time.Duration
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithInterUploadDelay sets the pause between sequential batch uploads.
func WithInterUploadDelay(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d >= 0 {
			p.interUploadDelay = d
		}
	}
}

// WithBaseEstimate sets the initial estimated-time-remaining hint.
func WithBaseEstimate(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.baseEstimate = d
		}
	}
}

// NewProcessor creates a Processor.
func NewProcessor(
	store job.Store,
	pipeline *generate.Pipeline,
	uploads *upload.Pipeline,
	bus *event.Bus,
	clock renderq.Clock,
	logger *slog.Logger,
	opts ...ProcessorOption,
) *Processor {
	if clock == nil {
		clock = renderq.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		store:            store,
		pipeline:         pipeline,
		uploads:          uploads,
		bus:              bus,
		clock:            clock,
		logger:           logger,
		interUploadDelay: DefaultInterUploadDelay,
		baseEstimate:     DefaultBaseEstimate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives j, already marked Processing by the dispatcher's dequeue,
// to Completed or Failed. It never returns a partial state: a panic
// anywhere in the pipeline is captured as an unexpected failure.
func (p *Processor) Run(ctx context.Context, j *job.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor panicked",
				slog.String("job_id", j.ID.String()),
				slog.Any("panic", r),
			)
			p.fail(ctx, j, "Image generation failed unexpectedly")
		}
	}()

	started := p.clock.Now()
	j.StartedAt = &started
	j.AdvanceProgress(10)
	j.EstimatedTimeRemaining = p.baseEstimate
	p.update(ctx, j)

	p.logger.Info("job processing",
		slog.String("job_id", j.ID.String()),
		slog.String("owner_id", j.OwnerID),
		slog.Int("quantity", j.Request.Quantity),
		slog.Bool("conditioned", j.Request.Conditioned()),
	)

	outcome, err := p.pipeline.Generate(ctx, j.ID, j.Request, func(progress int) {
		j.AdvanceProgress(progress)
		j.EstimatedTimeRemaining = p.estimate(j.Progress)
		p.update(ctx, j)
	})
	if err != nil {
		// Only infrastructure faults reach here; backend degradation
		// was absorbed by the fallback chain.
		p.logger.Error("generation pipeline failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		p.fail(ctx, j, "Image generation failed unexpectedly")
		return
	}

	j.AdvanceProgress(80)
	j.EstimatedTimeRemaining = p.estimate(j.Progress)
	p.update(ctx, j)

	urls := p.persist(ctx, j, outcome)

	j.AdvanceProgress(90)
	p.update(ctx, j)

	elapsed := p.clock.Now().Sub(started)
	result := &job.Result{
		ImageID:                   id.NewImageID(),
		ImageURL:                  urls[0],
		ImageURLs:                 urls,
		GeneratedCount:            len(urls),
		UsedCharacterConditioning: outcome.UsedCharacterConditioning,
		Stage:                     string(outcome.Stage),
		Seed:                      outcome.Seed,
		GenerationTimeSeconds:     elapsed.Seconds(),
		SubFailures:               outcome.SubFailures,
	}
	p.complete(ctx, j, result)
}

// persist uploads the outcome's images sequentially with a short
// inter-upload delay so batch jobs do not saturate the storage
// backend. Upload failures degrade to the ephemeral URL and never
// fail the job.
func (p *Processor) persist(ctx context.Context, j *job.Job, outcome *generate.Outcome) []string {
	urls := make([]string, 0, len(outcome.ImageURLs))
	for i, src := range outcome.ImageURLs {
		if i > 0 && p.interUploadDelay > 0 {
			select {
			case <-time.After(p.interUploadDelay):
			case <-ctx.Done():
			}
		}

		key, err := p.uploads.DestinationKey(ctx, j.OwnerID, j.Request.CharacterName)
		if err != nil {
			p.logger.Warn("destination key failed, keeping ephemeral url",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			urls = append(urls, src)
			continue
		}
		urls = append(urls, p.uploads.UploadWithRetry(ctx, src, key))
	}
	return urls
}

// estimate scales the base estimate by remaining progress.
func (p *Processor) estimate(progress int) time.Duration {
	if progress >= 100 {
		return 0
	}
	return p.baseEstimate * time.Duration(100-progress) / 100
}

// update persists the job and publishes job.updated.
func (p *Processor) update(ctx context.Context, j *job.Job) {
	if err := p.store.Update(ctx, j); err != nil {
		p.logger.Error("failed to persist job update",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	p.bus.Publish(ctx, event.TopicJobUpdated, j)
}

// complete marks the terminal success state and emits job.completed
// exactly once, after the result is persisted.
func (p *Processor) complete(ctx context.Context, j *job.Job, result *job.Result) {
	now := p.clock.Now()
	j.Status = job.StatusCompleted
	j.Result = result
	j.Progress = 100
	j.CompletedAt = &now
	j.EstimatedTimeRemaining = 0
	p.update(ctx, j)
	p.bus.Publish(ctx, event.TopicJobCompleted, j)

	p.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.Int("generated", result.GeneratedCount),
		slog.Bool("conditioned", result.UsedCharacterConditioning),
		slog.Float64("seconds", result.GenerationTimeSeconds),
	)
}

// fail marks the terminal failure state and emits job.failed exactly
// once. The message is coarse and user-visible; backend diagnostics
// stay in the logs.
func (p *Processor) fail(ctx context.Context, j *job.Job, message string) {
	if j.Terminal() {
		return
	}
	now := p.clock.Now()
	j.Status = job.StatusFailed
	j.Error = message
	j.CompletedAt = &now
	j.EstimatedTimeRemaining = 0
	p.update(ctx, j)
	p.bus.Publish(ctx, event.TopicJobFailed, j)
}
