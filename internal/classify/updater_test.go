package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CityOfBoston/case-indexer/internal/cases"
	"github.com/CityOfBoston/case-indexer/internal/index"
	"github.com/CityOfBoston/case-indexer/internal/telemetry"
)

// fakePredictor returns a canned prediction per description text.
type fakePredictor struct {
	mu          sync.Mutex
	predictions map[string]*Prediction
	failTexts   map[string]error
	delay       time.Duration
	inflight    atomic.Int32
	peak        atomic.Int32
}

func (f *fakePredictor) Classify(_ context.Context, text string) (*Prediction, error) {
	current := f.inflight.Add(1)
	defer f.inflight.Add(-1)

	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failTexts[text]; err != nil {
		return nil, err
	}

	if p, ok := f.predictions[text]; ok {
		return p, nil
	}

	return &Prediction{Category: "general", Confidence: 0.8}, nil
}

func TestUpdater_WritesSuggestions(t *testing.T) {
	predictor := &fakePredictor{
		predictions: map[string]*Prediction{
			"broken couch": {Category: "trash", Confidence: 0.95},
		},
	}
	store := index.NewMemoryCaseStore()
	rules := &Rules{Categories: map[string]string{"trash": "Schedule a bulk item pickup"}}

	updater := NewUpdater(predictor, store, rules, telemetry.NewRecorder(), nil, 5)

	store.UpsertCases(context.Background(), []cases.Case{
		{ID: "17-001", ReplayID: 5, Description: "broken couch"},
	})

	updater.Update(context.Background(), []cases.Case{
		{ID: "17-001", ReplayID: 5, Description: "broken couch"},
	})

	record, ok := store.Get("17-001")
	require.True(t, ok)
	assert.Equal(t, "Schedule a bulk item pickup", record.SuggestedCategory)
	assert.InDelta(t, 0.95, record.SuggestionConfidence, 1e-9)
}

func TestUpdater_SkipsEmptyDescriptions(t *testing.T) {
	predictor := &fakePredictor{}
	store := index.NewMemoryCaseStore()
	updater := NewUpdater(predictor, store, &Rules{}, telemetry.NewRecorder(), nil, 5)

	updater.Update(context.Background(), []cases.Case{
		{ID: "17-001", ReplayID: 1},
		{ID: "17-002", ReplayID: 2, Description: "pothole on main st"},
	})

	// Only the described case produced a suggestion write.
	_, ok := store.Get("17-001")
	assert.False(t, ok)

	record, ok := store.Get("17-002")
	require.True(t, ok)
	assert.Equal(t, "general", record.SuggestedCategory)
}

func TestUpdater_FailureIsolation(t *testing.T) {
	predictor := &fakePredictor{
		failTexts: map[string]error{"bad": errors.New("model offline")},
	}
	store := index.NewMemoryCaseStore()
	recorder := telemetry.NewRecorder()
	updater := NewUpdater(predictor, store, &Rules{}, recorder, nil, 5)

	updater.Update(context.Background(), []cases.Case{
		{ID: "17-001", ReplayID: 1, Description: "bad"},
		{ID: "17-002", ReplayID: 2, Description: "fine"},
	})

	_, ok := store.Get("17-001")
	assert.False(t, ok)

	_, ok = store.Get("17-002")
	assert.True(t, ok)

	assert.Equal(t, 1, recorder.CountStage("classify"))
}

func TestUpdater_BoundedConcurrency(t *testing.T) {
	predictor := &fakePredictor{delay: 20 * time.Millisecond}
	store := index.NewMemoryCaseStore()
	updater := NewUpdater(predictor, store, &Rules{}, telemetry.NewRecorder(), nil, 3)

	batch := make([]cases.Case, 0, 15)
	for i := range 15 {
		batch = append(batch, cases.Case{
			ID:          fmt.Sprintf("17-%03d", i),
			ReplayID:    int64(i + 1),
			Description: fmt.Sprintf("issue %d", i),
		})
	}

	updater.Update(context.Background(), batch)

	assert.LessOrEqual(t, predictor.peak.Load(), int32(3))
}

func TestUpdater_DroppedPredictionWritesNothing(t *testing.T) {
	predictor := &fakePredictor{
		predictions: map[string]*Prediction{
			"vague": {Category: "general", Confidence: 0.1},
		},
	}
	store := index.NewMemoryCaseStore()
	rules := &Rules{MinConfidence: 0.5}
	updater := NewUpdater(predictor, store, rules, telemetry.NewRecorder(), nil, 5)

	updater.Update(context.Background(), []cases.Case{
		{ID: "17-001", ReplayID: 1, Description: "vague"},
	})

	_, ok := store.Get("17-001")
	assert.False(t, ok)
}
