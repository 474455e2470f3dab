package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CityOfBoston/case-indexer/internal/cases"
)

// Sentinel errors for streaming client operations.
var (
	// ErrAuthenticationFailed indicates the OAuth exchange was rejected.
	// Treated as fatal by the coordinator.
	ErrAuthenticationFailed = errors.New("salesforce authentication failed")

	// ErrHandshakeFailed indicates the Bayeux handshake was rejected.
	ErrHandshakeFailed = errors.New("bayeux handshake failed")

	// ErrSubscribeFailed indicates the channel subscription was rejected.
	ErrSubscribeFailed = errors.New("channel subscription failed")

	// ErrSessionInvalid indicates the server invalidated the long-poll
	// session mid-run (expired token, revoked client id).
	ErrSessionInvalid = errors.New("streaming session invalid")

	// ErrNotConnected is returned when Disconnect is called before Connect.
	ErrNotConnected = errors.New("streaming client is not connected")
)

const (
	// eventBuffer absorbs bursts while the pipeline is loading a window.
	eventBuffer = 256

	// disconnectTimeout bounds the best-effort /meta/disconnect call.
	disconnectTimeout = 5 * time.Second
)

// Session carries the authentication material obtained during Connect. The
// access token doubles as the session id for the sibling 311 read client; it
// is injected there exactly once by the coordinator after Connect resolves.
type Session struct {
	AccessToken string
	InstanceURL string
}

// tokenExchanger abstracts the OAuth leg so tests can stub it; production
// uses oauthTokenSource (see oauth.go).
type tokenExchanger interface {
	exchange(ctx context.Context, cfg *SalesforceConfig) (*Session, error)
}

// Client maintains the long-lived subscription to the Salesforce change
// channel. One Connect per process: the client does not reconnect, by
// design (see package comment).
type Client struct {
	config *SalesforceConfig
	logger *slog.Logger

	// httpClient bounds handshake/subscribe/disconnect calls. pollClient
	// has no timeout: a long poll legitimately idles until the server
	// responds or the request context is cancelled.
	httpClient *http.Client
	pollClient *http.Client

	exchanger tokenExchanger

	events       chan cases.ChangeEvent
	errs         chan error
	disconnected chan struct{}

	endpoint  string
	clientID  string
	session   *Session
	messageID atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	connected atomic.Bool
}

// NewClient creates a streaming client. It does not touch the network until
// Connect is called.
func NewClient(cfg *SalesforceConfig, logger *slog.Logger) *Client {
	return &Client{
		config:       cfg,
		logger:       logger,
		httpClient:   &http.Client{Timeout: cfg.HandshakeTimeout},
		pollClient:   &http.Client{},
		exchanger:    &oauthTokenSource{},
		events:       make(chan cases.ChangeEvent, eventBuffer),
		errs:         make(chan error, 1),
		disconnected: make(chan struct{}),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Events returns the stream of raw change events.
func (c *Client) Events() <-chan cases.ChangeEvent {
	return c.events
}

// Errors returns the terminal error signal. At most one error is delivered.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Disconnected is closed when the channel closes outside of a caller
// initiated disconnect.
func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Connect authenticates, handshakes, subscribes starting just after
// resumeReplayID (or from the channel's earliest retained event when nil),
// and starts the long-poll loop. The returned session is valid for the
// lifetime of the run.
func (c *Client) Connect(ctx context.Context, resumeReplayID *int64) (*Session, error) {
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid streaming configuration: %w", err)
	}

	session, err := c.exchanger.exchange(ctx, c.config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	c.session = session
	c.endpoint = session.InstanceURL + "/cometd/" + c.config.APIVersion

	if err := c.handshake(ctx); err != nil {
		return nil, err
	}

	replayFrom := ReplayAllRetained
	if resumeReplayID != nil {
		replayFrom = *resumeReplayID
	}

	if err := c.subscribe(ctx, replayFrom); err != nil {
		return nil, err
	}

	c.logger.Info("Streaming subscription established",
		slog.String("channel", c.config.Channel()),
		slog.Int64("replay_from", replayFrom),
	)

	c.connected.Store(true)

	go c.pollLoop()

	return session, nil
}

// Disconnect tears down the subscription: it stops the poll loop, waits for
// it to drain, and sends a best-effort /meta/disconnect. Safe to call at any
// point during shutdown; subsequent calls are no-ops.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	c.stopOnce.Do(func() {
		close(c.stop)
	})

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	_, err := c.post(disconnectCtx, c.httpClient, []bayeuxMessage{{
		Channel:  channelDisconnect,
		ClientID: c.clientID,
		ID:       c.nextMessageID(),
	}})
	if err != nil {
		// Best effort: the server expires abandoned sessions on its own.
		c.logger.Warn("Bayeux disconnect failed",
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// handshake negotiates protocol version and obtains the Bayeux client id.
func (c *Client) handshake(ctx context.Context) error {
	responses, err := c.post(ctx, c.httpClient, []bayeuxMessage{{
		Channel:                  channelHandshake,
		Version:                  bayeuxVersion,
		SupportedConnectionTypes: []string{longPolling},
		ID:                       c.nextMessageID(),
	}})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	for i := range responses {
		msg := &responses[i]
		if msg.Channel != channelHandshake {
			continue
		}

		if !msg.ok() {
			return fmt.Errorf("%w: %s", ErrHandshakeFailed, msg.Error)
		}

		c.clientID = msg.ClientID
		c.logMeta(msg)

		return nil
	}

	return fmt.Errorf("%w: no handshake response", ErrHandshakeFailed)
}

// subscribe registers for the configured channel with the replay extension.
func (c *Client) subscribe(ctx context.Context, replayFrom int64) error {
	channel := c.config.Channel()

	responses, err := c.post(ctx, c.httpClient, []bayeuxMessage{{
		Channel:      channelSubscribe,
		ClientID:     c.clientID,
		Subscription: channel,
		Ext:          replayExt(channel, replayFrom),
		ID:           c.nextMessageID(),
	}})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}

	for i := range responses {
		msg := &responses[i]
		if msg.Channel != channelSubscribe {
			continue
		}

		if !msg.ok() {
			return fmt.Errorf("%w: %s", ErrSubscribeFailed, msg.Error)
		}

		c.logMeta(msg)

		return nil
	}

	return fmt.Errorf("%w: no subscribe response", ErrSubscribeFailed)
}

// pollLoop issues /meta/connect long polls until the channel fails or the
// caller disconnects. Event deliveries are pushed to the events channel;
// the first terminal condition is signalled and the loop exits.
func (c *Client) pollLoop() {
	defer close(c.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-c.stop
		cancel()
	}()

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		responses, err := c.post(ctx, c.pollClient, []bayeuxMessage{{
			Channel:        channelConnect,
			ClientID:       c.clientID,
			ConnectionType: longPolling,
			ID:             c.nextMessageID(),
		}})
		if err != nil {
			if ctx.Err() != nil {
				// Caller-initiated disconnect cancelled the poll.
				return
			}

			c.signalError(fmt.Errorf("long poll failed: %w", err))

			return
		}

		if terminal := c.dispatch(responses); terminal {
			return
		}
	}
}

// dispatch routes one long-poll response batch. Returns true when the loop
// must stop (session invalidated or server told us not to reconnect).
func (c *Client) dispatch(responses []bayeuxMessage) bool {
	channel := c.config.Channel()

	for i := range responses {
		msg := &responses[i]

		switch {
		case msg.Channel == channel:
			event, err := parseChangeEvent(msg)
			if err != nil {
				// A malformed delivery is reported and skipped; the
				// channel itself is still healthy.
				c.logger.Warn("Dropping malformed change event",
					slog.String("error", err.Error()),
				)

				continue
			}

			select {
			case c.events <- event:
			case <-c.stop:
				return true
			}

		case msg.Channel == channelConnect:
			c.logMeta(msg)

			if !msg.ok() {
				if msg.Advice != nil && msg.Advice.Reconnect == adviceHandshake {
					// Session evaporated server-side; restart resumes
					// from the last indexed replay id.
					c.signalError(fmt.Errorf("%w: %s", ErrSessionInvalid, msg.Error))

					return true
				}

				c.signalDisconnected()

				return true
			}

			if msg.Advice != nil && msg.Advice.Reconnect == adviceNone {
				c.signalDisconnected()

				return true
			}

		default:
			c.logMeta(msg)
		}
	}

	return false
}

// signalError delivers the terminal error without blocking.
func (c *Client) signalError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// signalDisconnected closes the disconnected channel exactly once.
func (c *Client) signalDisconnected() {
	select {
	case <-c.disconnected:
	default:
		close(c.disconnected)
	}
}

// logMeta records protocol diagnostics. Meta traffic is log-only: it never
// fails the pipeline.
func (c *Client) logMeta(msg *bayeuxMessage) {
	attrs := []any{
		slog.String("channel", msg.Channel),
		slog.Bool("successful", msg.ok()),
	}

	if msg.Error != "" {
		attrs = append(attrs, slog.String("bayeux_error", msg.Error))
	}

	if msg.Advice != nil && msg.Advice.Reconnect != "" {
		attrs = append(attrs, slog.String("advice", msg.Advice.Reconnect))
	}

	c.logger.Debug("Bayeux meta message", attrs...)
}

// post sends a Bayeux message batch and decodes the response batch.
func (c *Client) post(ctx context.Context, client *http.Client, batch []bayeuxMessage) ([]bayeuxMessage, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bayeux batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build bayeux request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.session.AccessToken)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: HTTP %d", ErrSessionInvalid, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var responses []bayeuxMessage
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		return nil, fmt.Errorf("failed to decode bayeux response: %w", err)
	}

	return responses, nil
}

func (c *Client) nextMessageID() string {
	return strconv.FormatInt(c.messageID.Add(1), 10)
}
