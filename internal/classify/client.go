package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrPredictionFailed wraps prediction service failures.
var ErrPredictionFailed = errors.New("prediction request failed")

// Prediction is one classification result.
type Prediction struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Client calls the prediction service.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a prediction service client.
func NewClient(cfg *Config) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Classify submits one case description and returns the predicted category.
func (c *Client) Classify(ctx context.Context, text string) (*Prediction, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	endpoint := c.config.Endpoint + "/classify"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredictionFailed, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrPredictionFailed, resp.StatusCode)
	}

	var prediction Prediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrPredictionFailed, err)
	}

	return &prediction, nil
}
