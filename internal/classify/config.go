// Package classify submits loaded case descriptions to the prediction
// service and writes suggested categories back to the index. The whole
// package is best effort: a down prediction service degrades search
// suggestions, never the index itself.
package classify

import (
	"errors"
	"fmt"
	"time"

	"github.com/CityOfBoston/case-indexer/internal/config"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultConcurrency    = 5
)

// ErrEndpointEmpty indicates the prediction service URL is missing.
var ErrEndpointEmpty = errors.New("prediction endpoint cannot be empty")

// Config holds settings for the prediction service client and updater.
type Config struct {
	// Endpoint is the prediction service base URL. Empty disables
	// classification entirely.
	Endpoint string

	// RulesPath points at the optional YAML suggestion rules file.
	RulesPath string

	// RequestTimeout bounds each prediction call.
	RequestTimeout time.Duration

	// Concurrency bounds in-flight prediction calls per batch.
	Concurrency int
}

// LoadConfig loads classifier configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Endpoint:       config.GetEnvStr("PREDICTION_ENDPOINT", ""),
		RulesPath:      config.GetEnvStr("PREDICTION_RULES_PATH", ""),
		RequestTimeout: config.GetEnvDuration("PREDICTION_REQUEST_TIMEOUT", defaultRequestTimeout),
		Concurrency:    config.GetEnvInt("PREDICTION_CONCURRENCY", defaultConcurrency),
	}
}

// Enabled reports whether classification is configured at all.
func (c *Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate checks that an enabled configuration is usable.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEndpointEmpty
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("prediction concurrency must be positive, got %d", c.Concurrency)
	}

	return nil
}

// String returns a log-safe representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("ClassifyConfig{Endpoint: %s, Rules: %s, Concurrency: %d}",
		c.Endpoint, c.RulesPath, c.Concurrency)
}
