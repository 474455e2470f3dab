// Package pipeline wires the ingestion flow: change events from the
// streaming subscription are buffered into short windows, coalesced into
// unique case refs, resolved to authoritative records by a bounded loader,
// and fanned out to the index store and the classifier updater.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/CityOfBoston/case-indexer/internal/config"
)

const (
	defaultWindowPeriod    = time.Second
	defaultMaxBatchSize    = 100
	defaultLoadConcurrency = 5
	defaultDrainTimeout    = 30 * time.Second
)

// Sentinel errors for pipeline configuration validation.
var (
	ErrWindowPeriodInvalid = errors.New("window period must be positive")
	ErrBatchSizeInvalid    = errors.New("max batch size must be positive")
	ErrConcurrencyInvalid  = errors.New("load concurrency must be positive")
)

// Config holds tunables for the ingestion pipeline.
type Config struct {
	// WindowPeriod is how long events accumulate before a window closes.
	WindowPeriod time.Duration

	// MaxBatchSize closes a window early when a burst would otherwise grow
	// it without bound.
	MaxBatchSize int

	// LoadConcurrency bounds in-flight case fetches across the whole
	// pipeline, regardless of batch size.
	LoadConcurrency int

	// DrainTimeout bounds how long shutdown waits for in-flight windows.
	DrainTimeout time.Duration
}

// LoadConfig loads pipeline configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		WindowPeriod:    config.GetEnvDuration("PIPELINE_WINDOW_PERIOD", defaultWindowPeriod),
		MaxBatchSize:    config.GetEnvInt("PIPELINE_MAX_BATCH_SIZE", defaultMaxBatchSize),
		LoadConcurrency: config.GetEnvInt("PIPELINE_LOAD_CONCURRENCY", defaultLoadConcurrency),
		DrainTimeout:    config.GetEnvDuration("PIPELINE_DRAIN_TIMEOUT", defaultDrainTimeout),
	}
}

// Validate checks that all pipeline settings are usable.
func (c *Config) Validate() error {
	if c.WindowPeriod <= 0 {
		return fmt.Errorf("%w: got %s", ErrWindowPeriodInvalid, c.WindowPeriod)
	}

	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrBatchSizeInvalid, c.MaxBatchSize)
	}

	if c.LoadConcurrency <= 0 {
		return fmt.Errorf("%w: got %d", ErrConcurrencyInvalid, c.LoadConcurrency)
	}

	return nil
}

// String returns a log-safe representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("PipelineConfig{Window: %s, MaxBatch: %d, Concurrency: %d}",
		c.WindowPeriod, c.MaxBatchSize, c.LoadConcurrency)
}
