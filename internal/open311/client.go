package open311

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/CityOfBoston/case-indexer/internal/cases"
	"github.com/CityOfBoston/case-indexer/internal/streaming"
)

// Sentinel errors for read API operations.
var (
	// ErrNoSession is returned when a fetch is attempted before the
	// streaming session has been injected.
	ErrNoSession = errors.New("case API session not set")

	// ErrSessionAlreadySet guards the single-assignment session policy.
	ErrSessionAlreadySet = errors.New("case API session already set")

	// ErrCaseFetchFailed wraps non-retryable API failures.
	ErrCaseFetchFailed = errors.New("case fetch failed")
)

// caseDocument is the wire shape of one case record from the read API.
type caseDocument struct {
	ServiceRequestID string  `json:"service_request_id"`
	ServiceCode      string  `json:"service_code"`
	ServiceName      string  `json:"service_name"`
	Status           string  `json:"status"`
	Description      string  `json:"description"`
	Address          string  `json:"address"`
	Latitude         float64 `json:"lat"`
	Longitude        float64 `json:"long"`
	MediaURL         string  `json:"media_url"`
	RequestedAt      string  `json:"requested_datetime"`
	UpdatedAt        string  `json:"updated_datetime"`
}

// Client fetches authoritative case records. All concurrent fetches share
// one token bucket so the pipeline's aggregate request rate stays bounded
// regardless of loader concurrency.
type Client struct {
	config     *Config
	httpClient *http.Client
	limiter    *rate.Limiter

	mu      sync.RWMutex
	session *streaming.Session
}

// NewClient creates a read API client. The streaming session must be
// injected with SetSession before the first fetch.
func NewClient(cfg *Config) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
	}
}

// SetSession injects the authenticated session obtained by the streaming
// client. Assignment happens exactly once per process; a second call is an
// error because swapping credentials mid-run would make in-flight fetches
// ambiguous.
func (c *Client) SetSession(session *streaming.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return ErrSessionAlreadySet
	}

	c.session = session

	return nil
}

// Case fetches the current record for the given business id. Returns
// (nil, nil) when the case does not exist. Transient failures are retried
// with exponential backoff up to the configured elapsed cap; the caller
// treats a final error as "omit this case", never as a pipeline failure.
func (c *Client) Case(ctx context.Context, id string) (*cases.Case, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil {
		return nil, ErrNoSession
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.config.MaxRetryWait

	var doc *caseDocument

	operation := func() error {
		var err error
		doc, err = c.fetch(ctx, session, id)

		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}

	if doc == nil {
		return nil, nil
	}

	return docToCase(doc), nil
}

// fetch performs one HTTP attempt. A nil document with nil error means the
// case was not found. Permanent errors abort the retry loop.
func (c *Client) fetch(ctx context.Context, session *streaming.Session, id string) (*caseDocument, error) {
	endpoint := c.config.Endpoint + "/cases/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build case request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)

	if c.config.apiKey != "" {
		req.Header.Set("X-Api-Key", c.config.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are transient until the elapsed cap says otherwise.
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		var doc caseDocument
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: invalid response for case %s: %v", ErrCaseFetchFailed, id, err))
		}

		return &doc, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, nil

	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: case %s returned status %d", ErrCaseFetchFailed, id, resp.StatusCode)

	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, backoff.Permanent(fmt.Errorf("%w: case %s returned status %d: %s",
			ErrCaseFetchFailed, id, resp.StatusCode, payload))
	}
}

// docToCase maps the wire document to the domain model. Unparseable
// timestamps become zero times; the index store persists those as NULL.
func docToCase(doc *caseDocument) *cases.Case {
	return &cases.Case{
		ID:          doc.ServiceRequestID,
		ServiceCode: doc.ServiceCode,
		ServiceName: doc.ServiceName,
		Status:      doc.Status,
		Description: doc.Description,
		Address:     doc.Address,
		Latitude:    doc.Latitude,
		Longitude:   doc.Longitude,
		MediaURL:    doc.MediaURL,
		RequestedAt: parseTime(doc.RequestedAt),
		UpdatedAt:   parseTime(doc.UpdatedAt),
	}
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}

	return parsed
}
