package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CityOfBoston/case-indexer/internal/cases"
)

func TestMemoryCaseStore_LatestReplayID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCaseStore()

	// Empty index resolves to nil, meaning "start from the beginning".
	latest, err := store.LatestReplayID(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	results := store.UpsertCases(ctx, []cases.Case{
		{ID: "A", ReplayID: 5},
		{ID: "B", ReplayID: 9},
		{ID: "C", ReplayID: 3},
	})
	require.Len(t, results, 3)

	for _, result := range results {
		require.NoError(t, result.Err)
	}

	latest, err = store.LatestReplayID(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(9), *latest)

	// An empty batch leaves the prior maximum untouched.
	store.UpsertCases(ctx, nil)

	latest, err = store.LatestReplayID(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(9), *latest)
}

func TestMemoryCaseStore_ReplayIDNeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCaseStore()

	store.UpsertCases(ctx, []cases.Case{{ID: "A", ReplayID: 10, Status: "Open"}})
	store.UpsertCases(ctx, []cases.Case{{ID: "A", ReplayID: 4, Status: "Closed"}})

	record, ok := store.Get("A")
	require.True(t, ok)
	assert.Equal(t, int64(10), record.ReplayID, "stale batch must not rewind the cursor")
	assert.Equal(t, "Closed", record.Status, "fields still take the latest write")
}

func TestMemoryCaseStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCaseStore()

	batch := []cases.Case{{ID: "17-00001615", ReplayID: 7, Status: "Open"}}
	store.UpsertCases(ctx, batch)
	store.UpsertCases(ctx, batch)

	assert.Equal(t, 1, store.Len())
}

func TestMemoryCaseStore_SuggestionCommutesWithUpsert(t *testing.T) {
	ctx := context.Background()

	t.Run("suggestion after case upsert", func(t *testing.T) {
		store := NewMemoryCaseStore()

		store.UpsertCases(ctx, []cases.Case{{ID: "A", ReplayID: 2, Status: "Open"}})
		require.NoError(t, store.UpsertSuggestion(ctx, "A", "Pothole", 0.91))

		record, ok := store.Get("A")
		require.True(t, ok)
		assert.Equal(t, "Pothole", record.SuggestedCategory)
		assert.Equal(t, int64(2), record.ReplayID)
	})

	t.Run("suggestion before case upsert", func(t *testing.T) {
		store := NewMemoryCaseStore()

		require.NoError(t, store.UpsertSuggestion(ctx, "A", "Pothole", 0.91))
		store.UpsertCases(ctx, []cases.Case{{ID: "A", ReplayID: 2, Status: "Open"}})

		record, ok := store.Get("A")
		require.True(t, ok)
		assert.Equal(t, "Pothole", record.SuggestedCategory, "early suggestion must survive the case upsert")
		assert.Equal(t, int64(2), record.ReplayID)
	})

	t.Run("placeholder never claims resume progress", func(t *testing.T) {
		store := NewMemoryCaseStore()

		require.NoError(t, store.UpsertSuggestion(ctx, "A", "Pothole", 0.91))

		latest, err := store.LatestReplayID(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})
}
