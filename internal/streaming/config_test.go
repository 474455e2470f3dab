package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSalesforceConfig_Defaults(t *testing.T) {
	cfg := LoadSalesforceConfig()

	assert.Equal(t, "https://login.salesforce.com", cfg.LoginURL)
	assert.Equal(t, defaultAPIVersion, cfg.APIVersion)
	assert.Equal(t, defaultHandshakeTimeout, cfg.HandshakeTimeout)
}

func TestLoadSalesforceConfig_FromEnvironment(t *testing.T) {
	t.Setenv("SALESFORCE_OAUTH_URL", "https://test.salesforce.com")
	t.Setenv("SALESFORCE_CONSUMER_KEY", "key")
	t.Setenv("SALESFORCE_CONSUMER_SECRET", "secret")
	t.Setenv("SALESFORCE_API_USERNAME", "svc@city.test")
	t.Setenv("SALESFORCE_API_PASSWORD", "pw")
	t.Setenv("SALESFORCE_API_SECURITY_TOKEN", "tok")
	t.Setenv("SALESFORCE_PUSH_TOPIC", "CaseUpdates")
	t.Setenv("SALESFORCE_API_VERSION", "42.0")
	t.Setenv("SALESFORCE_HANDSHAKE_TIMEOUT", "10s")

	cfg := LoadSalesforceConfig()

	assert.Equal(t, "https://test.salesforce.com", cfg.LoginURL)
	assert.Equal(t, "key", cfg.ClientID)
	assert.Equal(t, "svc@city.test", cfg.Username)
	assert.Equal(t, "CaseUpdates", cfg.PushTopic)
	assert.Equal(t, "42.0", cfg.APIVersion)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, "pwtok", cfg.credential())

	require.NoError(t, cfg.Validate())
}

func TestSalesforceConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*SalesforceConfig)
		expected error
	}{
		{
			name:     "valid config passes",
			mutate:   func(_ *SalesforceConfig) {},
			expected: nil,
		},
		{
			name:     "empty login URL",
			mutate:   func(c *SalesforceConfig) { c.LoginURL = "  " },
			expected: ErrLoginURLEmpty,
		},
		{
			name:     "empty client id",
			mutate:   func(c *SalesforceConfig) { c.ClientID = "" },
			expected: ErrClientIDEmpty,
		},
		{
			name:     "empty username",
			mutate:   func(c *SalesforceConfig) { c.Username = "" },
			expected: ErrUsernameEmpty,
		},
		{
			name:     "empty password",
			mutate:   func(c *SalesforceConfig) { c.password = "" },
			expected: ErrPasswordEmpty,
		},
		{
			name:     "empty push topic",
			mutate:   func(c *SalesforceConfig) { c.PushTopic = "" },
			expected: ErrPushTopicEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expected)
			}
		})
	}
}

func TestSalesforceConfig_Channel(t *testing.T) {
	cfg := &SalesforceConfig{PushTopic: "CaseUpdates"}
	assert.Equal(t, "/topic/CaseUpdates", cfg.Channel())
}

func TestSalesforceConfig_MaskUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		expected string
	}{
		{"full address", "indexer@city.test", "i***@city.test"},
		{"single character local part", "a@city.test", "***"},
		{"no at sign", "indexer", "***"},
		{"empty", "", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &SalesforceConfig{Username: tt.username}
			assert.Equal(t, tt.expected, cfg.MaskUsername())
		})
	}
}

func TestSalesforceConfig_StringOmitsSecrets(t *testing.T) {
	cfg := testConfig()

	out := cfg.String()
	assert.NotContains(t, out, cfg.password)
	assert.NotContains(t, out, cfg.token)
	assert.NotContains(t, out, cfg.clientSecret)
	assert.Contains(t, out, cfg.PushTopic)
}
