package renderq

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds tuning knobs for the orchestrator. Collaborators
// (Generator, Storage, owner directory) are injected separately via
// engine options; Config covers only scalar behaviour.
type Config struct {
	// MaxConcurrentJobs bounds how many jobs may be in Processing at
	// once. This is the sole admission-control knob protecting the
	// generation backend from overload.
	MaxConcurrentJobs int `envconfig:"MAX_CONCURRENT_JOBS" default:"3"`

	// DispatchInterval is how often the dispatcher checks the queue
	// for admissible jobs.
	DispatchInterval time.Duration `envconfig:"DISPATCH_INTERVAL" default:"1s"`

	// StageTimeout bounds a single generation stage. A stage that has
	// not produced a result within this window is treated as failed
	// and the next fallback stage proceeds.
	StageTimeout time.Duration `envconfig:"STAGE_TIMEOUT" default:"3m"`

	// GeneratorRate is the maximum sustained generation dispatches per
	// second. Zero disables rate limiting; MaxConcurrentJobs still
	// applies.
	GeneratorRate float64 `envconfig:"GENERATOR_RATE" default:"0"`

	// UploadMaxRetries is the total number of upload attempts before
	// the pipeline falls back to the ephemeral source URL.
	UploadMaxRetries int `envconfig:"UPLOAD_MAX_RETRIES" default:"3"`

	// InterUploadDelay spaces out sequential uploads of a batch so the
	// storage backend is not saturated by a single job.
	InterUploadDelay time.Duration `envconfig:"INTER_UPLOAD_DELAY" default:"500ms"`

	// RetentionWindow is how long terminal jobs stay queryable before
	// the reaper removes them.
	RetentionWindow time.Duration `envconfig:"RETENTION_WINDOW" default:"24h"`

	// ReaperSchedule is a cron expression (standard 5-field or
	// descriptors like "@every 1h") controlling when retention sweeps
	// run.
	ReaperSchedule string `envconfig:"REAPER_SCHEDULE" default:"@every 1h"`

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 3,
		DispatchInterval:  1 * time.Second,
		StageTimeout:      3 * time.Minute,
		UploadMaxRetries:  3,
		InterUploadDelay:  500 * time.Millisecond,
		RetentionWindow:   24 * time.Hour,
		ReaperSchedule:    "@every 1h",
		ShutdownTimeout:   30 * time.Second,
	}
}

// ConfigFromEnv loads a Config from RENDERQ_-prefixed environment
// variables, falling back to the struct tag defaults.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("renderq", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
