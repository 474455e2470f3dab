// Package cases provides domain models for 311 case change events and the
// persistence interface the ingestion pipeline writes through.
//
// The lifecycle is: a ChangeEvent arrives on the streaming channel, a burst of
// events is coalesced into CaseRefs, each ref is resolved to an authoritative
// Case via the 311 read API, and Cases are upserted into the index. The
// models here are pure domain types without JSON tags; wire-format mapping
// lives in the streaming and open311 packages.
package cases

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain model validation.
var (
	// ErrEmptyCaseID indicates a change event or ref without a case identifier.
	ErrEmptyCaseID = errors.New("case id cannot be empty")

	// ErrInvalidReplayID indicates a non-positive replay id.
	ErrInvalidReplayID = errors.New("replay id must be positive")
)

type (
	// ChangeEvent is one raw message from the streaming channel. It is
	// ephemeral: never persisted itself, only coalesced into CaseRefs. The
	// payload fields beyond CaseID and ReplayID are informational; the
	// pipeline always re-fetches authoritative state rather than applying
	// the event's own snapshot.
	ChangeEvent struct {
		// CaseID is the business identifier, e.g. "17-00001615".
		CaseID string

		// ReplayID is the monotonically increasing cursor assigned by the
		// streaming channel, used to resume after restart.
		ReplayID int64

		// Status is the case status at emission time.
		Status string

		// Received is when this process observed the event.
		Received time.Time
	}

	// CaseRef identifies one case to re-fetch, tagged with the highest
	// replay id observed for it within a window.
	CaseRef struct {
		ID       string
		ReplayID int64
	}

	// Case is the authoritative case record fetched from the 311 read API,
	// plus the replay id it was discovered at.
	Case struct {
		ID          string
		ReplayID    int64
		ServiceCode string
		ServiceName string
		Status      string
		Description string
		Address     string
		Latitude    float64
		Longitude   float64
		MediaURL    string

		// RequestedAt and UpdatedAt are zero when the upstream record
		// omits them; the index store persists NULL in that case.
		RequestedAt time.Time
		UpdatedAt   time.Time

		// SuggestedCategory and SuggestionConfidence are filled by the
		// classifier updater, never by the loader.
		SuggestedCategory    string
		SuggestionConfidence float64
	}
)

// Validate checks a ChangeEvent for the fields the pipeline depends on.
func (e *ChangeEvent) Validate() error {
	if e.CaseID == "" {
		return ErrEmptyCaseID
	}

	if e.ReplayID <= 0 {
		return fmt.Errorf("%w: got %d for case %s", ErrInvalidReplayID, e.ReplayID, e.CaseID)
	}

	return nil
}

// Validate checks a CaseRef before it is handed to the loader.
func (r *CaseRef) Validate() error {
	if r.ID == "" {
		return ErrEmptyCaseID
	}

	if r.ReplayID <= 0 {
		return fmt.Errorf("%w: got %d for case %s", ErrInvalidReplayID, r.ReplayID, r.ID)
	}

	return nil
}
