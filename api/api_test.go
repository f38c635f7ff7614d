package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medusavr/renderq/api"
	"github.com/medusavr/renderq/engine"
	"github.com/medusavr/renderq/generate"
	"github.com/medusavr/renderq/id"
	"github.com/medusavr/renderq/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type stubGenerator struct{}

func (stubGenerator) CharacterConditioned(_ context.Context, spec generate.Spec) (generate.Output, error) {
	return generate.Output{OK: true, ImageURL: "https://backend.example/char"}, nil
}

func (stubGenerator) TextToImage(_ context.Context, spec generate.Spec) (generate.Output, error) {
	return generate.Output{OK: true, ImageURL: "https://backend.example/text"}, nil
}

type stubStorage struct{}

func (stubStorage) Put(_ context.Context, key string, _ []byte) (string, error) {
	return "https://cdn.example/" + key, nil
}

func (stubStorage) List(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func newServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()

	eng, err := engine.New(
		engine.WithGenerator(stubGenerator{}),
		engine.WithStorage(stubStorage{}),
		engine.WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	a := api.New(eng, discardLogger())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv, eng
}

func postJob(t *testing.T, srv *httptest.Server, ownerID string) string {
	t.Helper()

	body := fmt.Sprintf(`{
		"owner_id": %q,
		"request": {
			"prompt": "a fox",
			"width": 512, "height": 512,
			"steps": 30, "quantity": 1,
			"model": "base-v1"
		}
	}`, ownerID)

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /v1/jobs status = %d, want 202", resp.StatusCode)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out.JobID
}

func TestStartGeneration_Endpoint(t *testing.T) {
	srv, eng := newServer(t)

	jobID := postJob(t, srv, "owner-1")
	parsed, err := id.ParseJobID(jobID)
	if err != nil {
		t.Fatalf("returned job id %q is invalid: %v", jobID, err)
	}

	j, err := eng.GetJob(context.Background(), parsed)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusQueued {
		t.Errorf("Status = %s, want queued", j.Status)
	}
}

func TestStartGeneration_BadRequests(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing owner", `{"request":{"prompt":"x","width":512,"height":512,"quantity":1,"model":"m"}}`},
		{"invalid request", `{"owner_id":"o","request":{"prompt":"","width":512,"height":512,"quantity":1,"model":"m"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", bytes.NewReader([]byte(tt.body)))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetJob_Endpoint(t *testing.T) {
	srv, _ := newServer(t)

	jobID := postJob(t, srv, "owner-1")

	resp, err := http.Get(srv.URL + "/v1/jobs/" + jobID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got job.Job
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID.String() != jobID {
		t.Errorf("ID = %s, want %s", got.ID, jobID)
	}
	if got.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want owner-1", got.OwnerID)
	}
}

func TestGetJob_Errors(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/v1/jobs/not-a-job-id")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/jobs/" + id.NewJobID().String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", resp.StatusCode)
	}
}

func TestListOwnerJobs_Endpoint(t *testing.T) {
	srv, _ := newServer(t)

	postJob(t, srv, "owner-1")
	postJob(t, srv, "owner-1")
	postJob(t, srv, "owner-2")

	resp, err := http.Get(srv.URL + "/v1/owners/owner-1/jobs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var jobs []*job.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("got %d jobs, want 2", len(jobs))
	}
}

func TestListOwnerJobs_EmptyIsArray(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/v1/owners/nobody/jobs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var raw bytes.Buffer
	raw.ReadFrom(resp.Body)
	if got := strings.TrimSpace(raw.String()); got != "[]" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestCancelJob_Endpoint(t *testing.T) {
	srv, _ := newServer(t)

	jobID := postJob(t, srv, "owner-1")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/jobs/"+jobID+"?owner_id=owner-1", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Cancelled {
		t.Error("cancelled = false for a queued job")
	}
}

func TestCancelJob_RequiresOwner(t *testing.T) {
	srv, _ := newServer(t)

	jobID := postJob(t, srv, "owner-1")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamEvents_RejectsUnknownTopic(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/v1/events?topic=bogus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamEvents_DeliversLifecycleEvents(t *testing.T) {
	srv, _ := newServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events?topic=job.created", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	// The subscription is live once the handler responds, so a job
	// queued now must show up on the stream.
	jobID := postJob(t, srv, "owner-1")

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = line
		case strings.HasPrefix(line, "data: "):
			dataLine = line
		}
		if eventLine != "" && dataLine != "" {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	if eventLine != "event: job.created" {
		t.Errorf("event line = %q, want job.created", eventLine)
	}
	if !strings.Contains(dataLine, jobID) {
		t.Errorf("data line %q does not mention job %s", dataLine, jobID)
	}
}
