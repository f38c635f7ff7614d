package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medusavr/renderq/id"
	"github.com/medusavr/renderq/job"
)

// Stage names the fallback stage that produced a result.
type Stage string

const (
	// StageCharacter is character-conditioned generation.
	StageCharacter Stage = "character"
	// StageGeneric is plain text-to-image generation.
	StageGeneric Stage = "generic"
	// StagePlaceholder is the deterministic substitute.
	StagePlaceholder Stage = "placeholder"
)

// ReportFunc receives monotonic progress hints while a generation is
// in flight. The pipeline never mutates the job itself; the owning
// processor decides what to do with the reports.
type ReportFunc func(progress int)

// Outcome is the pipeline's answer. It always carries at least one
// image URL; the Stage field records which fallback produced it.
type Outcome struct {
	ImageURLs                 []string
	Seed                      *int64
	UsedCharacterConditioning bool
	Stage                     Stage

	// SubFailures records failure reasons for batch members that did
	// not complete. Diagnostics only; never a job failure.
	SubFailures []string
}

// DefaultStageTimeout bounds a single generation stage. The backend
// completion poll is abandoned after this long and the next fallback
// stage proceeds.
const DefaultStageTimeout = 3 * time.Minute

// Pipeline sequences the fallback chain over a Generator collaborator.
type Pipeline struct {
	gen          Generator
	placeholder  PlaceholderFunc
	stageTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStageTimeout overrides the per-stage deadline.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stageTimeout = d
		}
	}
}

// WithPlaceholder overrides the placeholder collaborator.
func WithPlaceholder(fn PlaceholderFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.placeholder = fn
		}
	}
}

// New creates a Pipeline. gen may be nil only if every request is
// expected to fall through to the placeholder stage.
func New(gen Generator, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		gen:          gen,
		placeholder:  DefaultPlaceholder,
		stageTimeout: DefaultStageTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate drives the request through the fallback chain. It returns
// an error only when the parent context is cancelled or the final
// placeholder stage itself fails, both infrastructure conditions
// rather than backend degradation.
func (p *Pipeline) Generate(ctx context.Context, jobID id.JobID, req job.Request, report ReportFunc) (*Outcome, error) {
	if report == nil {
		report = func(int) {}
	}

	// Request routed; generation about to start.
	report(20)

	var subFailures []string

	// Stage 1: character-conditioned.
	if p.gen != nil && req.Conditioned() {
		report(30)
		urls, seed, fails := p.fanOut(ctx, jobID, req, p.gen.CharacterConditioned)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(urls) > 0 {
			return &Outcome{
				ImageURLs:                 urls,
				Seed:                      seed,
				UsedCharacterConditioning: true,
				Stage:                     StageCharacter,
				SubFailures:               fails,
			}, nil
		}
		subFailures = append(subFailures, fails...)
		p.logger.Warn("character-conditioned stage produced no images, falling back",
			slog.String("job_id", jobID.String()),
			slog.String("character_id", req.CharacterID),
		)
	}

	// Stage 2: generic text-to-image.
	if p.gen != nil {
		report(50)
		urls, seed, fails := p.fanOut(ctx, jobID, req, p.gen.TextToImage)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(urls) > 0 {
			return &Outcome{
				ImageURLs:   urls,
				Seed:        seed,
				Stage:       StageGeneric,
				SubFailures: fails,
			}, nil
		}
		subFailures = append(subFailures, fails...)
		p.logger.Warn("generic stage produced no images, using placeholder",
			slog.String("job_id", jobID.String()),
		)
	}

	// Stage 3: deterministic placeholder. This stage must not fail
	// silently: an empty URL is a contract violation, not degradation.
	report(70)
	urls := make([]string, 0, req.Quantity)
	for i := range req.Quantity {
		url := p.placeholder(req, i)
		if url == "" {
			return nil, fmt.Errorf("placeholder returned empty url for job %s index %d", jobID, i)
		}
		urls = append(urls, url)
	}

	return &Outcome{
		ImageURLs:   urls,
		Stage:       StagePlaceholder,
		SubFailures: subFailures,
	}, nil
}

// fanOut runs one sub-generation per requested image, concurrently,
// each isolated: a member's failure is recorded and never aborts its
// siblings. Successes keep generation order.
func (p *Pipeline) fanOut(
	ctx context.Context,
	jobID id.JobID,
	req job.Request,
	call func(ctx context.Context, spec Spec) (Output, error),
) (urls []string, seed *int64, failures []string) {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	results := make([]Output, req.Quantity)
	errs := make([]error, req.Quantity)

	var g errgroup.Group
	for i := range req.Quantity {
		g.Go(func() error {
			out, err := p.safeCall(stageCtx, call, specFromRequest(req, i))
			results[i], errs[i] = out, err
			return nil
		})
	}
	_ = g.Wait() // member errors are collected, never propagated

	for i := range req.Quantity {
		switch {
		case errs[i] != nil:
			reason := errs[i].Error()
			if errors.Is(errs[i], context.DeadlineExceeded) {
				reason = "generation timed out"
			}
			failures = append(failures, fmt.Sprintf("image %d: %s", i, reason))
			p.logger.Debug("sub-generation failed",
				slog.String("job_id", jobID.String()),
				slog.Int("index", i),
				slog.String("error", errs[i].Error()),
			)
		case !results[i].OK:
			failures = append(failures, fmt.Sprintf("image %d: %s", i, results[i].Reason))
			p.logger.Debug("sub-generation rejected by backend",
				slog.String("job_id", jobID.String()),
				slog.Int("index", i),
				slog.String("reason", results[i].Reason),
			)
		default:
			urls = append(urls, results[i].ImageURL)
			if seed == nil && results[i].Seed != nil {
				seed = results[i].Seed
			}
		}
	}
	return urls, seed, failures
}

// safeCall shields the pipeline from a panicking Generator
// implementation; a panic is reported as that member's failure.
func (p *Pipeline) safeCall(
	ctx context.Context,
	call func(ctx context.Context, spec Spec) (Output, error),
	spec Spec,
) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panicked: %v", r)
		}
	}()
	return call(ctx, spec)
}
