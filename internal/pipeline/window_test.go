package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CityOfBoston/case-indexer/internal/cases"
)

func TestWindow_FlushEmpty(t *testing.T) {
	window := NewWindow(10)

	assert.Nil(t, window.Flush())
	assert.Zero(t, window.Len())
}

func TestWindow_AddBelowCap(t *testing.T) {
	window := NewWindow(10)

	for i := 1; i <= 3; i++ {
		batch := window.Add(cases.ChangeEvent{CaseID: fmt.Sprintf("case-%d", i), ReplayID: int64(i)})
		assert.Nil(t, batch)
	}

	assert.Equal(t, 3, window.Len())

	batch := window.Flush()
	require.Len(t, batch, 3)
	assert.Zero(t, window.Len())

	// The window is reusable after a flush.
	assert.Nil(t, window.Add(cases.ChangeEvent{CaseID: "case-4", ReplayID: 4}))
	assert.Equal(t, 1, window.Len())
}

func TestWindow_CapClosesEarly(t *testing.T) {
	window := NewWindow(3)

	assert.Nil(t, window.Add(cases.ChangeEvent{CaseID: "a", ReplayID: 1}))
	assert.Nil(t, window.Add(cases.ChangeEvent{CaseID: "b", ReplayID: 2}))

	batch := window.Add(cases.ChangeEvent{CaseID: "c", ReplayID: 3})
	require.Len(t, batch, 3)
	assert.Zero(t, window.Len())
	assert.Nil(t, window.Flush())
}
