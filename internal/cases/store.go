package cases

import "context"

// UpsertResult reports the outcome of persisting a single case. Batch
// persistence is per-record: one bad record must not drop the rest of the
// batch, so the store returns one result per input case instead of a single
// error.
type UpsertResult struct {
	CaseID string
	Err    error
}

// Store defines the interface for case index persistence.
//
// Implementations must support:
//   - Idempotent upserts keyed by case id (replays converge, never duplicate)
//   - Resume: LatestReplayID answers "where did the last run leave off"
//   - Suggestion writes that are order-independent of case upserts (the
//     indexer and classifier consume the same batch concurrently)
type Store interface {
	// UpsertCases persists a batch of loaded cases, recording each record's
	// replay id alongside it. Returns one result per input case; a failed
	// record is reported in its result and does not abort the batch.
	UpsertCases(ctx context.Context, batch []Case) []UpsertResult

	// UpsertSuggestion records a classifier suggestion for a case, touching
	// only the suggestion fields. Safe to call whether or not the case row
	// exists yet.
	UpsertSuggestion(ctx context.Context, caseID, category string, confidence float64) error

	// LatestReplayID returns the maximum replay id across all indexed
	// records, or nil when the index is empty.
	LatestReplayID(ctx context.Context) (*int64, error)

	// Ping verifies index connectivity. Used at startup as a health probe;
	// failure is reported but non-fatal.
	Ping(ctx context.Context) error
}
