package streaming

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/CityOfBoston/case-indexer/internal/cases"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExchanger satisfies tokenExchanger without touching the network.
type stubExchanger struct {
	session *Session
	err     error
}

func (s *stubExchanger) exchange(_ context.Context, _ *SalesforceConfig) (*Session, error) {
	return s.session, s.err
}

// fakeBayeuxServer scripts a CometD conversation: handshake and subscribe
// succeed, then each long poll pops one response batch from the queue.
type fakeBayeuxServer struct {
	t *testing.T

	mu         sync.Mutex
	polls      chan []bayeuxMessage
	subscribes []bayeuxMessage
	replayExts []map[string]any
}

func newFakeBayeuxServer(t *testing.T) *fakeBayeuxServer {
	t.Helper()

	return &fakeBayeuxServer{
		t:     t,
		polls: make(chan []bayeuxMessage, 16),
	}
}

func (f *fakeBayeuxServer) enqueue(batch []bayeuxMessage) {
	f.polls <- batch
}

func (f *fakeBayeuxServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(f.t, err)

		var batch []bayeuxMessage
		require.NoError(f.t, json.Unmarshal(body, &batch))
		require.NotEmpty(f.t, batch)

		msg := batch[0]
		ok := true

		switch msg.Channel {
		case channelHandshake:
			f.respond(w, []bayeuxMessage{{
				Channel:    channelHandshake,
				ClientID:   "client-1",
				Successful: &ok,
			}})

		case channelSubscribe:
			f.mu.Lock()
			f.subscribes = append(f.subscribes, msg)
			f.replayExts = append(f.replayExts, msg.Ext)
			f.mu.Unlock()

			f.respond(w, []bayeuxMessage{{
				Channel:      channelSubscribe,
				Subscription: msg.Subscription,
				Successful:   &ok,
			}})

		case channelConnect:
			select {
			case responses := <-f.polls:
				f.respond(w, responses)
			case <-r.Context().Done():
			}

		case channelDisconnect:
			f.respond(w, []bayeuxMessage{{
				Channel:    channelDisconnect,
				Successful: &ok,
			}})

		default:
			f.t.Errorf("unexpected channel %q", msg.Channel)
		}
	}
}

func (f *fakeBayeuxServer) respond(w http.ResponseWriter, batch []bayeuxMessage) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(batch))
}

func (f *fakeBayeuxServer) subscribeReplayExt(i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.replayExts[i]
}

func testConfig() *SalesforceConfig {
	return &SalesforceConfig{
		LoginURL:         "https://login.example.test",
		ClientID:         "consumer-key",
		clientSecret:     "consumer-secret",
		Username:         "indexer@example.test",
		password:         "hunter2",
		token:            "sectoken",
		PushTopic:        "CaseUpdates",
		APIVersion:       defaultAPIVersion,
		HandshakeTimeout: 5 * time.Second,
	}
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	client := NewClient(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	client.exchanger = &stubExchanger{
		session: &Session{
			AccessToken: "token-abc",
			InstanceURL: server.URL,
		},
	}

	return client
}

// connectBatch builds a successful /meta/connect response carrying the given
// event deliveries.
func connectBatch(channel string, deliveries ...json.RawMessage) []bayeuxMessage {
	ok := true
	batch := []bayeuxMessage{{Channel: channelConnect, Successful: &ok}}

	for _, data := range deliveries {
		batch = append(batch, bayeuxMessage{Channel: channel, Data: data})
	}

	return batch
}

func eventDelivery(t *testing.T, caseID string, replayID int64, status string) json.RawMessage {
	t.Helper()

	payload := map[string]any{
		"event": map[string]any{
			"replayId":    replayID,
			"createdDate": time.Now().UTC().Format(time.RFC3339),
		},
		"sobject": map[string]any{
			"CaseNumber": caseID,
			"Status":     status,
		},
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	return data
}

func TestClient_ConnectAndReceive(t *testing.T) {
	fake := newFakeBayeuxServer(t)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)
	channel := client.config.Channel()

	fake.enqueue(connectBatch(channel,
		eventDelivery(t, "101004983", 41, "Open"),
		eventDelivery(t, "101004990", 42, "Closed"),
	))

	session, err := client.Connect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "token-abc", session.AccessToken)
	assert.Equal(t, server.URL, session.InstanceURL)

	first := receiveEvent(t, client)
	assert.Equal(t, "101004983", first.CaseID)
	assert.Equal(t, int64(41), first.ReplayID)
	assert.Equal(t, "Open", first.Status)

	second := receiveEvent(t, client)
	assert.Equal(t, "101004990", second.CaseID)
	assert.Equal(t, "Closed", second.Status)

	require.NoError(t, client.Disconnect(context.Background()))
}

func TestClient_ReplayExtension(t *testing.T) {
	tests := []struct {
		name     string
		resume   *int64
		expected int64
	}{
		{
			name:     "nil resume requests all retained events",
			resume:   nil,
			expected: ReplayAllRetained,
		},
		{
			name:     "stored cursor resumes after it",
			resume:   int64Ptr(1042),
			expected: 1042,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeBayeuxServer(t)
			server := httptest.NewServer(fake.handler())
			defer server.Close()

			client := newTestClient(t, server)

			_, err := client.Connect(context.Background(), tt.resume)
			require.NoError(t, err)

			defer func() {
				_ = client.Disconnect(context.Background())
			}()

			ext := fake.subscribeReplayExt(0)
			require.Contains(t, ext, "replay")

			replay, typeOK := ext["replay"].(map[string]any)
			require.True(t, typeOK)

			channel := client.config.Channel()
			assert.InDelta(t, float64(tt.expected), replay[channel], 0)
		})
	}
}

func TestClient_MalformedEventIsSkipped(t *testing.T) {
	fake := newFakeBayeuxServer(t)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)
	channel := client.config.Channel()

	fake.enqueue(connectBatch(channel,
		json.RawMessage(`{"event":{"replayId":7},"sobject":{"Status":"Open"}}`),
		eventDelivery(t, "101005001", 8, "Open"),
	))

	_, err := client.Connect(context.Background(), nil)
	require.NoError(t, err)

	// Only the well-formed delivery comes through.
	event := receiveEvent(t, client)
	assert.Equal(t, "101005001", event.CaseID)

	select {
	case extra := <-client.Events():
		t.Fatalf("unexpected event %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, client.Disconnect(context.Background()))
}

func TestClient_AdviceNoneSignalsDisconnected(t *testing.T) {
	fake := newFakeBayeuxServer(t)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)

	ok := true
	fake.enqueue([]bayeuxMessage{{
		Channel:    channelConnect,
		Successful: &ok,
		Advice:     &bayeuxAdvice{Reconnect: adviceNone},
	}})

	_, err := client.Connect(context.Background(), nil)
	require.NoError(t, err)

	select {
	case <-client.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnected signal")
	}

	require.NoError(t, client.Disconnect(context.Background()))
}

func TestClient_SessionInvalidSignalsError(t *testing.T) {
	fake := newFakeBayeuxServer(t)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server)

	notOK := false
	fake.enqueue([]bayeuxMessage{{
		Channel:    channelConnect,
		Successful: &notOK,
		Error:      "402::Unknown client",
		Advice:     &bayeuxAdvice{Reconnect: adviceHandshake},
	}})

	_, err := client.Connect(context.Background(), nil)
	require.NoError(t, err)

	select {
	case pollErr := <-client.Errors():
		assert.ErrorIs(t, pollErr, ErrSessionInvalid)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal error")
	}

	require.NoError(t, client.Disconnect(context.Background()))
}

func TestClient_AuthenticationFailure(t *testing.T) {
	client := NewClient(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	client.exchanger = &stubExchanger{err: context.DeadlineExceeded}

	_, err := client.Connect(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestClient_DisconnectBeforeConnect(t *testing.T) {
	client := NewClient(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := client.Disconnect(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func receiveEvent(t *testing.T, client *Client) cases.ChangeEvent {
	t.Helper()

	select {
	case event := <-client.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return cases.ChangeEvent{}
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
