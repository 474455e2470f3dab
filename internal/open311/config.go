// Package open311 provides the read client for the 311 case API. The
// pipeline never trusts the streaming event payload; every change event is
// resolved to an authoritative case record through this client.
package open311

import (
	"errors"
	"fmt"
	"time"

	"github.com/CityOfBoston/case-indexer/internal/config"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultRatePerSecond  = 10
	defaultRateBurst      = 10
	defaultMaxRetryWait   = 20 * time.Second
)

// Sentinel errors for read API configuration validation.
var (
	ErrEndpointEmpty = errors.New("case API endpoint cannot be empty")
	ErrRateInvalid   = errors.New("case API rate limit must be positive")
)

// Config holds settings for the case read API client.
type Config struct {
	// Endpoint is the base URL of the case read API, without a trailing
	// slash, e.g. "https://311.example.gov/api/v1".
	Endpoint string

	// APIKey is sent on every request when set. Private so it cannot leak
	// through logging of the struct.
	apiKey string

	// RequestTimeout bounds each individual HTTP call.
	RequestTimeout time.Duration

	// RatePerSecond and RateBurst configure the outbound token bucket
	// shared by all concurrent fetches.
	RatePerSecond int
	RateBurst     int

	// MaxRetryWait caps the total time spent retrying one fetch.
	MaxRetryWait time.Duration
}

// LoadConfig loads read API configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Endpoint:       config.GetEnvStr("CASE_API_ENDPOINT", ""),
		apiKey:         config.GetEnvStr("CASE_API_KEY", ""),
		RequestTimeout: config.GetEnvDuration("CASE_API_REQUEST_TIMEOUT", defaultRequestTimeout),
		RatePerSecond:  config.GetEnvInt("CASE_API_RATE_PER_SECOND", defaultRatePerSecond),
		RateBurst:      config.GetEnvInt("CASE_API_RATE_BURST", defaultRateBurst),
		MaxRetryWait:   config.GetEnvDuration("CASE_API_MAX_RETRY_WAIT", defaultMaxRetryWait),
	}
}

// NewConfig creates a configuration with explicit values, used by tests.
func NewConfig(endpoint, apiKey string) *Config {
	return &Config{
		Endpoint:       endpoint,
		apiKey:         apiKey,
		RequestTimeout: defaultRequestTimeout,
		RatePerSecond:  defaultRatePerSecond,
		RateBurst:      defaultRateBurst,
		MaxRetryWait:   defaultMaxRetryWait,
	}
}

// Validate checks that required read API settings are present.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEndpointEmpty
	}

	if c.RatePerSecond <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("%w: rate=%d burst=%d", ErrRateInvalid, c.RatePerSecond, c.RateBurst)
	}

	return nil
}

// MaskAPIKey returns a masked key safe for logging.
func (c *Config) MaskAPIKey() string {
	if c.apiKey == "" {
		return "(none)"
	}

	if len(c.apiKey) <= 4 {
		return "***"
	}

	return c.apiKey[:4] + "***"
}

// String returns a log-safe representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Open311Config{Endpoint: %s, APIKey: %s, Rate: %d/s burst %d}",
		c.Endpoint, c.MaskAPIKey(), c.RatePerSecond, c.RateBurst)
}
