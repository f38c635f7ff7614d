package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/medusavr/renderq"
	"github.com/medusavr/renderq/job"
)

// scheduleParser supports standard 5-field cron and descriptors like
// "@every 1h".
var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// DefaultRetention is how long terminal jobs stay queryable.
const DefaultRetention = 24 * time.Hour

// Reaper removes terminal jobs older than the retention window on a
// cron schedule. Purely additive cleanup; it never touches live jobs.
type Reaper struct {
	store     job.Store
	clock     renderq.Clock
	logger    *slog.Logger
	retention time.Duration
	schedule  cronlib.Schedule

	checkInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithRetention sets the terminal-job retention window.
func WithRetention(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.retention = d
		}
	}
}

// withCheckInterval tightens the schedule polling interval in tests.
func withCheckInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.checkInterval = d }
}

// NewReaper creates a Reaper firing per the cron expression.
func NewReaper(
	store job.Store,
	clock renderq.Clock,
	scheduleExpr string,
	logger *slog.Logger,
	opts ...ReaperOption,
) (*Reaper, error) {
	schedule, err := scheduleParser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("parse reaper schedule %q: %w", scheduleExpr, err)
	}
	if clock == nil {
		clock = renderq.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reaper{
		store:         store,
		clock:         clock,
		logger:        logger,
		retention:     DefaultRetention,
		schedule:      schedule,
		checkInterval: time.Minute,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start launches the sweep loop. It returns immediately.
func (r *Reaper) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return renderq.ErrAlreadyStarted
	}
	r.active = true

	r.wg.Add(1)
	go r.loop()
	return nil
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	next := r.schedule.Next(r.clock.Now())
	ticker := r.clock.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C():
			now := r.clock.Now()
			if now.Before(next) {
				continue
			}
			r.Sweep(context.Background())
			next = r.schedule.Next(now)
		}
	}
}

// Sweep removes terminal jobs whose CompletedAt is older than the
// retention window.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.retention)
	removed, err := r.store.Sweep(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		r.logger.Info("retention sweep removed jobs",
			slog.Int("removed", removed),
			slog.Time("cutoff", cutoff),
		)
	}
}

// Stop halts the sweep loop.
func (r *Reaper) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	return nil
}
