package cases

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   ChangeEvent
		wantErr error
	}{
		{"valid event", ChangeEvent{CaseID: "17-00001615", ReplayID: 1}, nil},
		{"missing case id", ChangeEvent{ReplayID: 1}, ErrEmptyCaseID},
		{"zero replay id", ChangeEvent{CaseID: "17-00001615"}, ErrInvalidReplayID},
		{"negative replay id", ChangeEvent{CaseID: "17-00001615", ReplayID: -2}, ErrInvalidReplayID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
		})
	}
}

func TestCaseRefValidate(t *testing.T) {
	tests := []struct {
		name    string
		ref     CaseRef
		wantErr error
	}{
		{"valid ref", CaseRef{ID: "17-00001615", ReplayID: 12}, nil},
		{"missing id", CaseRef{ReplayID: 12}, ErrEmptyCaseID},
		{"zero replay id", CaseRef{ID: "17-00001615"}, ErrInvalidReplayID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
		})
	}
}
