package classify

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/CityOfBoston/case-indexer/internal/cases"
	"github.com/CityOfBoston/case-indexer/internal/telemetry"
)

// Predictor is the classification call the updater depends on.
type Predictor interface {
	Classify(ctx context.Context, text string) (*Prediction, error)
}

// SuggestionWriter is the slice of the store the updater writes through.
type SuggestionWriter interface {
	UpsertSuggestion(ctx context.Context, caseID, category string, confidence float64) error
}

// Updater submits case descriptions to the prediction service and writes
// suggested categories back to the index. It runs off the same loaded batch
// as the indexer, in parallel with it, and never fails the pipeline.
type Updater struct {
	predictor   Predictor
	writer      SuggestionWriter
	rules       *Rules
	reporter    telemetry.Reporter
	metrics     *telemetry.Metrics
	concurrency int
}

// NewUpdater creates a classifier updater.
func NewUpdater(
	predictor Predictor,
	writer SuggestionWriter,
	rules *Rules,
	reporter telemetry.Reporter,
	metrics *telemetry.Metrics,
	concurrency int,
) *Updater {
	return &Updater{
		predictor:   predictor,
		writer:      writer,
		rules:       rules,
		reporter:    reporter,
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// Update classifies every case in the batch with bounded concurrency. Cases
// without a description are skipped; per-item failures are reported and
// skipped.
func (u *Updater) Update(ctx context.Context, batch []cases.Case) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(u.concurrency)

	for _, record := range batch {
		if record.Description == "" {
			continue
		}

		group.Go(func() error {
			u.classifyOne(groupCtx, record)

			return nil
		})
	}

	_ = group.Wait()
}

func (u *Updater) classifyOne(ctx context.Context, record cases.Case) {
	prediction, err := u.predictor.Classify(ctx, record.Description)
	if err != nil {
		u.reporter.ReportError(err, map[string]string{
			"stage":   "classify",
			"case_id": record.ID,
		})

		return
	}

	suggestion, ok := u.rules.Apply(prediction)
	if !ok {
		return
	}

	if err := u.writer.UpsertSuggestion(ctx, record.ID, suggestion.Category, suggestion.Confidence); err != nil {
		u.reporter.ReportError(err, map[string]string{
			"stage":   "classify",
			"case_id": record.ID,
		})

		return
	}

	if u.metrics != nil {
		u.metrics.SuggestionsWritten.Inc()
	}
}
