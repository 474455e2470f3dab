package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/CityOfBoston/case-indexer/internal/cases"
	"github.com/CityOfBoston/case-indexer/internal/telemetry"
)

// Fetcher resolves one case id to its authoritative record. A nil record
// with nil error means the case does not exist upstream.
type Fetcher interface {
	Case(ctx context.Context, id string) (*cases.Case, error)
}

// Loader resolves a batch of case refs with bounded concurrency. Failures
// and not-found lookups are reported and omitted from the output; the next
// change event for that case is the retry path.
type Loader struct {
	fetcher     Fetcher
	reporter    telemetry.Reporter
	concurrency int
}

// NewLoader creates a loader that runs at most concurrency fetches at once.
func NewLoader(fetcher Fetcher, reporter telemetry.Reporter, concurrency int) *Loader {
	return &Loader{
		fetcher:     fetcher,
		reporter:    reporter,
		concurrency: concurrency,
	}
}

// Load fetches every ref in the batch. Output order does not match input
// order. The returned slice is never nil and never contains nil cases.
func (l *Loader) Load(ctx context.Context, refs []cases.CaseRef) []cases.Case {
	loaded := make([]cases.Case, 0, len(refs))

	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(l.concurrency)

	for _, ref := range refs {
		group.Go(func() error {
			record, err := l.fetcher.Case(groupCtx, ref.ID)
			if err != nil {
				l.reporter.ReportError(err, map[string]string{
					"stage":   "load",
					"case_id": ref.ID,
				})

				return nil
			}

			if record == nil {
				// Not found upstream. Expected during backfills where the
				// channel retains events for since-deleted cases.
				return nil
			}

			record.ReplayID = ref.ReplayID

			mu.Lock()
			loaded = append(loaded, *record)
			mu.Unlock()

			return nil
		})
	}

	// Workers never return errors; they report and omit instead.
	_ = group.Wait()

	return loaded
}
