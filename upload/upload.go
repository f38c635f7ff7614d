// Package upload moves generated images from the generation backend's
// ephemeral URLs into durable storage, with bounded retries and a
// deliberate degradation path: if every attempt fails, the pipeline
// hands back the ephemeral source URL so the job still completes with
// a usable, if non-durable, result.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/medusavr/renderq/backoff"
)

// Storage is the durable-storage collaborator.
type Storage interface {
	// Put writes data at key and returns the durable URL.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// List returns the existing keys under prefix. Used to compute
	// the next sequence index for a destination.
	List(ctx context.Context, prefix string) ([]string, error)
}

// OwnerDirectory resolves an owner's display name, used to build
// human-readable storage paths.
type OwnerDirectory interface {
	DisplayName(ctx context.Context, ownerID string) (string, error)
}

// DefaultMaxRetries is the total number of upload attempts.
const DefaultMaxRetries = 3

// Pipeline performs retrying, backing-off uploads.
type Pipeline struct {
	storage    Storage
	owners     OwnerDirectory
	client     *http.Client
	bo         backoff.Strategy
	maxRetries int
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxRetries sets the total number of upload attempts.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(bo backoff.Strategy) Option {
	return func(p *Pipeline) {
		if bo != nil {
			p.bo = bo
		}
	}
}

// WithHTTPClient sets the client used to fetch source bytes.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.client = c
		}
	}
}

// NewPipeline creates an upload Pipeline.
func NewPipeline(storage Storage, owners OwnerDirectory, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		storage:    storage,
		owners:     owners,
		client:     &http.Client{Timeout: 30 * time.Second},
		bo:         backoff.DefaultUploadStrategy(),
		maxRetries: DefaultMaxRetries,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UploadWithRetry fetches the image at srcURL and uploads it to key,
// retrying with backoff up to the configured attempt budget. It never
// fails the caller: on exhaustion it returns srcURL so the pipeline
// still yields a usable result.
func (p *Pipeline) UploadWithRetry(ctx context.Context, srcURL, key string) string {
	data, err := p.fetch(ctx, srcURL)
	if err != nil {
		p.logger.Warn("could not fetch source image, keeping ephemeral url",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return srcURL
	}

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		url, putErr := p.storage.Put(ctx, key, data)
		if putErr == nil {
			return url
		}

		p.logger.Warn("upload attempt failed",
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", p.maxRetries),
			slog.String("error", putErr.Error()),
		)

		if attempt == p.maxRetries {
			break
		}
		select {
		case <-time.After(p.bo.Delay(attempt)):
		case <-ctx.Done():
			return srcURL
		}
	}

	p.logger.Warn("upload retries exhausted, keeping ephemeral url",
		slog.String("key", key),
	)
	return srcURL
}

// fetch downloads the source bytes from the generation backend.
func (p *Pipeline) fetch(ctx context.Context, srcURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", srcURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", srcURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
