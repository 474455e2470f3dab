package pipeline

import (
	"github.com/CityOfBoston/case-indexer/internal/cases"
)

// Window accumulates change events until the period ticker fires or the
// batch cap is reached, whichever comes first. It is not safe for concurrent
// use; the coordinator owns it from a single goroutine.
type Window struct {
	maxBatch int
	buffer   []cases.ChangeEvent
}

// NewWindow creates an event window with the given batch cap.
func NewWindow(maxBatch int) *Window {
	return &Window{
		maxBatch: maxBatch,
		buffer:   make([]cases.ChangeEvent, 0, maxBatch),
	}
}

// Add appends an event. When the cap is reached the full batch is returned
// and the window resets; otherwise the returned slice is nil.
func (w *Window) Add(event cases.ChangeEvent) []cases.ChangeEvent {
	w.buffer = append(w.buffer, event)

	if len(w.buffer) >= w.maxBatch {
		return w.Flush()
	}

	return nil
}

// Flush returns the buffered events and resets the window. Returns nil for
// an empty window so callers can skip the tick entirely.
func (w *Window) Flush() []cases.ChangeEvent {
	if len(w.buffer) == 0 {
		return nil
	}

	batch := w.buffer
	w.buffer = make([]cases.ChangeEvent, 0, w.maxBatch)

	return batch
}

// Len reports the number of buffered events.
func (w *Window) Len() int {
	return len(w.buffer)
}
