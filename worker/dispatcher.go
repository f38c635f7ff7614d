package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/medusavr/renderq"
	"github.com/medusavr/renderq/job"
)

// Dispatcher admits queued jobs into processing on a fixed tick,
// keeping the number of Processing jobs at or below the concurrency
// cap. Ticks never wait on job bodies.
type Dispatcher struct {
	store     job.Store
	processor *Processor
	clock     renderq.Clock
	logger    *slog.Logger

	interval      time.Duration
	maxConcurrent int
	limiter       *rate.Limiter

	stopCh  chan struct{}
	loopWG  sync.WaitGroup
	jobWG   sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchInterval sets the tick interval.
func WithDispatchInterval(d time.Duration) DispatcherOption {
	return func(di *Dispatcher) {
		if d > 0 {
			di.interval = d
		}
	}
}

// WithMaxConcurrent sets the concurrency cap, the sole admission
// control knob protecting the generation backend.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(di *Dispatcher) {
		if n > 0 {
			di.maxConcurrent = n
		}
	}
}

// WithRateLimit adds a token-bucket limit on generation dispatches per
// second on top of the concurrency cap. Zero disables it.
func WithRateLimit(perSecond float64) DispatcherOption {
	return func(di *Dispatcher) {
		if perSecond > 0 {
			di.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	store job.Store,
	processor *Processor,
	clock renderq.Clock,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	if clock == nil {
		clock = renderq.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:         store,
		processor:     processor,
		clock:         clock,
		logger:        logger,
		interval:      time.Second,
		maxConcurrent: 3,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the dispatch loop. It returns immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return renderq.ErrAlreadyStarted
	}
	d.running = true

	d.logger.Info("dispatcher starting",
		slog.Int("max_concurrent", d.maxConcurrent),
		slog.Duration("interval", d.interval),
	)

	d.loopWG.Add(1)
	go d.loop()
	return nil
}

func (d *Dispatcher) loop() {
	defer d.loopWG.Done()

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C():
			d.Tick(context.Background())
		}
	}
}

// Tick admits queued jobs until the concurrency cap is reached or the
// queue is empty. Safe to invoke while previously dispatched job
// bodies are still running.
func (d *Dispatcher) Tick(ctx context.Context) {
	processing, err := d.store.CountProcessing(ctx)
	if err != nil {
		d.logger.Error("count processing failed", slog.String("error", err.Error()))
		return
	}

	for processing < d.maxConcurrent {
		if d.limiter != nil && !d.limiter.Allow() {
			// Backend rate limit hit; the job stays at the queue
			// head for a later tick.
			return
		}

		j, err := d.store.DequeueNext(ctx)
		if errors.Is(err, renderq.ErrQueueEmpty) {
			return
		}
		if err != nil {
			d.logger.Error("dequeue failed", slog.String("error", err.Error()))
			return
		}

		d.logger.Info("job dispatched",
			slog.String("job_id", j.ID.String()),
			slog.String("owner_id", j.OwnerID),
		)

		d.jobWG.Add(1)
		go func() {
			defer d.jobWG.Done()
			// Job bodies run on a background context: once
			// Processing, a job runs to a terminal state and is not
			// aborted in flight.
			d.processor.Run(context.Background(), j)
		}()
		processing++
	}
}

// Stop halts the dispatch loop and waits for in-flight job bodies,
// bounded by the context deadline. Jobs are never cancelled mid-run.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	d.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		d.jobWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped gracefully")
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out with jobs in flight")
	}
	return nil
}
