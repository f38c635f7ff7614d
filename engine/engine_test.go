package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medusavr/renderq"
	"github.com/medusavr/renderq/engine"
	"github.com/medusavr/renderq/event"
	"github.com/medusavr/renderq/generate"
	"github.com/medusavr/renderq/id"
	"github.com/medusavr/renderq/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type okGenerator struct {
	baseURL string
}

func (g *okGenerator) CharacterConditioned(_ context.Context, spec generate.Spec) (generate.Output, error) {
	return generate.Output{OK: true, ImageURL: g.baseURL + "/char"}, nil
}

func (g *okGenerator) TextToImage(_ context.Context, spec generate.Spec) (generate.Output, error) {
	return generate.Output{OK: true, ImageURL: g.baseURL + "/text"}, nil
}

type okStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *okStorage) Put(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return "https://cdn.example/" + key, nil
}

func (s *okStorage) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// stepClock returns a time that moves forward a fixed step on every
// call, so records created in sequence get distinct timestamps.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *stepClock) NewTicker(d time.Duration) renderq.Ticker {
	return renderq.RealClock{}.NewTicker(d)
}

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(srv.Close)

	base := []engine.Option{
		engine.WithGenerator(&okGenerator{baseURL: srv.URL}),
		engine.WithStorage(&okStorage{}),
		engine.WithLogger(discardLogger()),
	}
	eng, err := engine.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func validRequest() job.Request {
	return job.Request{
		Prompt:   "a fox",
		Width:    512,
		Height:   512,
		Steps:    30,
		Quantity: 1,
		Model:    "base-v1",
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := engine.New(engine.WithStorage(&okStorage{})); !errors.Is(err, renderq.ErrNoGenerator) {
		t.Errorf("New without generator = %v, want ErrNoGenerator", err)
	}
	if _, err := engine.New(engine.WithGenerator(&okGenerator{})); !errors.Is(err, renderq.ErrNoStorage) {
		t.Errorf("New without storage = %v, want ErrNoStorage", err)
	}
}

func TestStartGeneration_CreatesQueuedJob(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	jobID, err := eng.StartGeneration(ctx, "owner-1", validRequest())
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	if jobID.IsNil() {
		t.Fatal("returned nil job id")
	}

	j, err := eng.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusQueued {
		t.Errorf("Status = %s, want queued", j.Status)
	}
	if j.Progress != 0 {
		t.Errorf("Progress = %d, want 0", j.Progress)
	}
	if j.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want owner-1", j.OwnerID)
	}
}

func TestStartGeneration_PublishesCreatedEvent(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	var created int
	eng.Subscribe(event.TopicJobCreated, func(context.Context, *job.Job) { created++ })

	if _, err := eng.StartGeneration(ctx, "owner-1", validRequest()); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	if created != 1 {
		t.Errorf("job.created published %d times, want 1", created)
	}
}

func TestStartGeneration_AppliesDefaults(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	req := validRequest()
	req.Quantity = 0
	req.Steps = 0

	jobID, err := eng.StartGeneration(ctx, "owner-1", req)
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	j, err := eng.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Request.Quantity != 1 {
		t.Errorf("Quantity = %d, want default 1", j.Request.Quantity)
	}
	if j.Request.Steps != 30 {
		t.Errorf("Steps = %d, want default 30", j.Request.Steps)
	}
}

func TestStartGeneration_RejectsInvalidRequests(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	invalid := validRequest()
	invalid.Prompt = ""
	if _, err := eng.StartGeneration(ctx, "owner-1", invalid); !errors.Is(err, renderq.ErrInvalidRequest) {
		t.Errorf("invalid prompt = %v, want ErrInvalidRequest", err)
	}

	if _, err := eng.StartGeneration(ctx, "", validRequest()); !errors.Is(err, renderq.ErrInvalidRequest) {
		t.Errorf("missing owner = %v, want ErrInvalidRequest", err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	eng := newEngine(t)

	if _, err := eng.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, renderq.ErrJobNotFound) {
		t.Errorf("GetJob missing = %v, want ErrJobNotFound", err)
	}
}

func TestGetJobsForOwner_NewestFirst(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), step: time.Minute}
	eng := newEngine(t, engine.WithClock(clock))
	ctx := context.Background()

	var ids []string
	for range 3 {
		jobID, err := eng.StartGeneration(ctx, "owner-1", validRequest())
		if err != nil {
			t.Fatalf("StartGeneration: %v", err)
		}
		ids = append(ids, jobID.String())
	}
	if _, err := eng.StartGeneration(ctx, "owner-2", validRequest()); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	jobs, err := eng.GetJobsForOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("GetJobsForOwner: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	// Newest first: creation order reversed.
	for i := range 3 {
		if jobs[i].ID.String() != ids[2-i] {
			t.Errorf("jobs[%d] = %s, want %s", i, jobs[i].ID, ids[2-i])
		}
	}
}

func TestCancelJob_QueuedOnly(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	jobID, err := eng.StartGeneration(ctx, "owner-1", validRequest())
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	var failed int
	eng.Subscribe(event.TopicJobFailed, func(context.Context, *job.Job) { failed++ })

	if !eng.CancelJob(ctx, jobID, "owner-1") {
		t.Fatal("CancelJob = false for a queued job")
	}

	j, err := eng.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusFailed {
		t.Errorf("Status = %s, want failed", j.Status)
	}
	if j.Error != renderq.CancelledByOwner {
		t.Errorf("Error = %q, want %q", j.Error, renderq.CancelledByOwner)
	}
	if failed != 1 {
		t.Errorf("job.failed published %d times, want 1", failed)
	}

	// A second cancel is a no-op.
	if eng.CancelJob(ctx, jobID, "owner-1") {
		t.Error("CancelJob = true for an already-terminal job")
	}
}

func TestCancelJob_RejectsProcessingAndWrongOwner(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	jobID, err := eng.StartGeneration(ctx, "owner-1", validRequest())
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	if eng.CancelJob(ctx, jobID, "owner-2") {
		t.Error("CancelJob = true for another owner's job")
	}

	// Simulate dispatch: the job leaves the queue.
	if _, err := eng.Store().DequeueNext(ctx); err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if eng.CancelJob(ctx, jobID, "owner-1") {
		t.Error("CancelJob = true for a processing job")
	}
}

func TestEngine_FullLifecycle(t *testing.T) {
	eng := newEngine(t, engine.WithConfig(func() renderq.Config {
		cfg := renderq.DefaultConfig()
		cfg.DispatchInterval = 10 * time.Millisecond
		cfg.InterUploadDelay = 0
		return cfg
	}()))
	ctx := context.Background()

	sub := eng.SubscribeChan(event.TopicJobCompleted)
	defer sub.Close()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(ctx)

	if err := eng.Start(ctx); !errors.Is(err, renderq.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	jobID, err := eng.StartGeneration(ctx, "owner-1", validRequest())
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}

	select {
	case evt := <-sub.C():
		if evt.Job.ID.String() != jobID.String() {
			t.Errorf("completed job = %s, want %s", evt.Job.ID, jobID)
		}
		if evt.Job.Result == nil || evt.Job.Result.GeneratedCount != 1 {
			t.Error("completion event missing result")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("job did not complete")
	}

	j, err := eng.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusCompleted {
		t.Errorf("Status = %s, want completed", j.Status)
	}
	if !strings.HasPrefix(j.Result.ImageURL, "https://cdn.example/") {
		t.Errorf("ImageURL = %q, want a durable url", j.Result.ImageURL)
	}
}

func TestEngine_SweepRemovesExpiredJobs(t *testing.T) {
	// The store stamps CompletedAt with wall time, so the fake clock
	// starts at wall time and only the sweep cutoff is shifted.
	clock := &stepClock{now: time.Now().UTC()}
	eng := newEngine(t, engine.WithClock(clock))
	ctx := context.Background()

	jobID, err := eng.StartGeneration(ctx, "owner-1", validRequest())
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	eng.CancelJob(ctx, jobID, "owner-1")

	// Jump past the retention window and sweep.
	clock.mu.Lock()
	clock.now = clock.now.Add(25 * time.Hour)
	clock.mu.Unlock()
	eng.Sweep(ctx)

	if _, err := eng.GetJob(ctx, jobID); !errors.Is(err, renderq.ErrJobNotFound) {
		t.Errorf("GetJob after sweep = %v, want ErrJobNotFound", err)
	}
}
