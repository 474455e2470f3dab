package streaming

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/CityOfBoston/case-indexer/internal/cases"
)

// Bayeux meta channels used by the protocol exchange.
const (
	channelHandshake  = "/meta/handshake"
	channelConnect    = "/meta/connect"
	channelSubscribe  = "/meta/subscribe"
	channelDisconnect = "/meta/disconnect"

	bayeuxVersion   = "1.0"
	longPolling     = "long-polling"
	adviceNone      = "none"
	adviceHandshake = "handshake"
)

type (
	// bayeuxMessage is one message in a Bayeux exchange. The same shape
	// covers requests and responses; unused fields are omitted on the wire.
	bayeuxMessage struct {
		Channel                  string          `json:"channel"`
		Version                  string          `json:"version,omitempty"`
		ClientID                 string          `json:"clientId,omitempty"`
		ID                       string          `json:"id,omitempty"`
		ConnectionType           string          `json:"connectionType,omitempty"`
		SupportedConnectionTypes []string        `json:"supportedConnectionTypes,omitempty"`
		Subscription             string          `json:"subscription,omitempty"`
		Successful               *bool           `json:"successful,omitempty"`
		Error                    string          `json:"error,omitempty"`
		Advice                   *bayeuxAdvice   `json:"advice,omitempty"`
		Ext                      map[string]any  `json:"ext,omitempty"`
		Data                     json.RawMessage `json:"data,omitempty"`
	}

	// bayeuxAdvice carries the server's reconnection guidance.
	bayeuxAdvice struct {
		Reconnect string `json:"reconnect,omitempty"`
		Interval  int    `json:"interval,omitempty"`
		Timeout   int    `json:"timeout,omitempty"`
	}

	// eventPayload is the data element of a Salesforce streaming message:
	// replay metadata plus a snapshot of the changed record.
	eventPayload struct {
		Event struct {
			ReplayID    int64  `json:"replayId"`
			CreatedDate string `json:"createdDate"`
		} `json:"event"`
		SObject struct {
			CaseNumber string `json:"CaseNumber"`
			Status     string `json:"Status"`
		} `json:"sobject"`
	}
)

// ok reports whether a response message succeeded. Event deliveries carry no
// successful field and count as ok.
func (m *bayeuxMessage) ok() bool {
	return m.Successful == nil || *m.Successful
}

// replayExt builds the Salesforce replay extension for a subscribe request:
// the channel resumes delivery with the first event whose replay id is
// greater than the given value.
func replayExt(channel string, replayFrom int64) map[string]any {
	return map[string]any{
		"replay": map[string]int64{channel: replayFrom},
	}
}

// parseChangeEvent maps an event delivery on the subscribed channel to a
// domain change event.
func parseChangeEvent(msg *bayeuxMessage) (cases.ChangeEvent, error) {
	var payload eventPayload

	if len(msg.Data) == 0 {
		return cases.ChangeEvent{}, fmt.Errorf("event on %s has no data", msg.Channel)
	}

	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return cases.ChangeEvent{}, fmt.Errorf("failed to decode event payload: %w", err)
	}

	event := cases.ChangeEvent{
		CaseID:   payload.SObject.CaseNumber,
		ReplayID: payload.Event.ReplayID,
		Status:   payload.SObject.Status,
		Received: time.Now(),
	}

	if err := event.Validate(); err != nil {
		return cases.ChangeEvent{}, fmt.Errorf("invalid change event: %w", err)
	}

	return event, nil
}
