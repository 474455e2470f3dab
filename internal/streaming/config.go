// Package streaming provides the subscription client for the Salesforce
// change-event channel. The client authenticates with OAuth, performs the
// CometD/Bayeux handshake, subscribes with the replay extension, and runs a
// long-poll loop that emits change events until the channel fails or the
// caller disconnects.
//
// The client deliberately does not self-heal. Reconnection logic for
// long-poll protocols risks silently dropping or double-delivering replay
// windows, so any transport or session failure is surfaced as a terminal
// signal and the process restarts under its supervisor, resuming from the
// last indexed replay id.
package streaming

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CityOfBoston/case-indexer/internal/config"
)

const (
	defaultAPIVersion       = "40.0"
	defaultHandshakeTimeout = 30 * time.Second

	// ReplayAllRetained asks the channel for every event it still retains.
	// Used when the index is empty or unreachable at startup.
	ReplayAllRetained int64 = -2

	// ReplayNewOnly asks the channel for events from now on.
	ReplayNewOnly int64 = -1
)

// Sentinel errors for streaming configuration validation.
var (
	ErrLoginURLEmpty  = errors.New("salesforce login URL cannot be empty")
	ErrClientIDEmpty  = errors.New("salesforce OAuth client id cannot be empty")
	ErrUsernameEmpty  = errors.New("salesforce username cannot be empty")
	ErrPasswordEmpty  = errors.New("salesforce password cannot be empty")
	ErrPushTopicEmpty = errors.New("salesforce push topic cannot be empty")
)

// SalesforceConfig holds credentials and channel settings for the streaming
// subscription. Password and security token are private so they cannot leak
// through logging of the struct.
type SalesforceConfig struct {
	LoginURL     string
	ClientID     string
	clientSecret string
	Username     string
	password     string
	token        string

	// PushTopic is the channel name without the /topic/ prefix,
	// e.g. "CaseUpdates".
	PushTopic string

	// APIVersion selects the CometD endpoint, e.g. "40.0".
	APIVersion string

	// HandshakeTimeout bounds the handshake and subscribe calls. The
	// long-poll connect call itself is never bounded by a client timeout.
	HandshakeTimeout time.Duration
}

// LoadSalesforceConfig loads streaming configuration from environment variables.
func LoadSalesforceConfig() *SalesforceConfig {
	return &SalesforceConfig{
		LoginURL:         config.GetEnvStr("SALESFORCE_OAUTH_URL", "https://login.salesforce.com"),
		ClientID:         config.GetEnvStr("SALESFORCE_CONSUMER_KEY", ""),
		clientSecret:     config.GetEnvStr("SALESFORCE_CONSUMER_SECRET", ""),
		Username:         config.GetEnvStr("SALESFORCE_API_USERNAME", ""),
		password:         config.GetEnvStr("SALESFORCE_API_PASSWORD", ""),
		token:            config.GetEnvStr("SALESFORCE_API_SECURITY_TOKEN", ""),
		PushTopic:        config.GetEnvStr("SALESFORCE_PUSH_TOPIC", ""),
		APIVersion:       config.GetEnvStr("SALESFORCE_API_VERSION", defaultAPIVersion),
		HandshakeTimeout: config.GetEnvDuration("SALESFORCE_HANDSHAKE_TIMEOUT", defaultHandshakeTimeout),
	}
}

// Validate checks that all required streaming settings are present.
func (c *SalesforceConfig) Validate() error {
	if strings.TrimSpace(c.LoginURL) == "" {
		return ErrLoginURLEmpty
	}

	if strings.TrimSpace(c.ClientID) == "" {
		return ErrClientIDEmpty
	}

	if strings.TrimSpace(c.Username) == "" {
		return ErrUsernameEmpty
	}

	if c.password == "" {
		return ErrPasswordEmpty
	}

	if strings.TrimSpace(c.PushTopic) == "" {
		return ErrPushTopicEmpty
	}

	return nil
}

// Channel returns the full Bayeux channel name for the configured push topic.
func (c *SalesforceConfig) Channel() string {
	return "/topic/" + c.PushTopic
}

// MaskUsername returns a masked username safe for logging.
func (c *SalesforceConfig) MaskUsername() string {
	atIndex := strings.Index(c.Username, "@")
	if atIndex <= 1 {
		return "***"
	}

	return c.Username[:1] + "***" + c.Username[atIndex:]
}

// credential returns the password with the security token appended, the form
// Salesforce expects for the resource-owner password grant.
func (c *SalesforceConfig) credential() string {
	return c.password + c.token
}

// String returns a log-safe representation of the configuration.
func (c *SalesforceConfig) String() string {
	return fmt.Sprintf("SalesforceConfig{LoginURL: %s, Username: %s, PushTopic: %s, APIVersion: %s}",
		c.LoginURL, c.MaskUsername(), c.PushTopic, c.APIVersion)
}
