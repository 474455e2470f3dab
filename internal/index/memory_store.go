package index

import (
	"context"
	"sync"

	"github.com/CityOfBoston/case-indexer/internal/cases"
)

// MemoryCaseStore implements cases.Store with an in-memory map. Used by unit
// tests and the coordinator tests; mirrors the Postgres store's semantics
// (replay id never regresses, suggestion writes commute with case upserts).
type MemoryCaseStore struct {
	mu      sync.RWMutex
	records map[string]cases.Case
}

var _ cases.Store = (*MemoryCaseStore)(nil)

// NewMemoryCaseStore creates an empty in-memory store.
func NewMemoryCaseStore() *MemoryCaseStore {
	return &MemoryCaseStore{
		records: make(map[string]cases.Case),
	}
}

// UpsertCases stores the batch keyed by case id.
func (s *MemoryCaseStore) UpsertCases(_ context.Context, batch []cases.Case) []cases.UpsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]cases.UpsertResult, 0, len(batch))

	for _, record := range batch {
		existing, exists := s.records[record.ID]
		if exists {
			if existing.ReplayID > record.ReplayID {
				record.ReplayID = existing.ReplayID
			}

			// Suggestions written first must survive the case upsert.
			if record.SuggestedCategory == "" {
				record.SuggestedCategory = existing.SuggestedCategory
				record.SuggestionConfidence = existing.SuggestionConfidence
			}
		}

		s.records[record.ID] = record
		results = append(results, cases.UpsertResult{CaseID: record.ID})
	}

	return results
}

// UpsertSuggestion records a suggestion, creating a placeholder record when
// the case has not been indexed yet.
func (s *MemoryCaseStore) UpsertSuggestion(_ context.Context, caseID, category string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[caseID]
	record.ID = caseID
	record.SuggestedCategory = category
	record.SuggestionConfidence = confidence
	s.records[caseID] = record

	return nil
}

// LatestReplayID returns the maximum stored replay id, or nil when empty.
func (s *MemoryCaseStore) LatestReplayID(_ context.Context) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64

	for _, record := range s.records {
		if record.ReplayID > latest {
			latest = record.ReplayID
		}
	}

	if latest == 0 {
		return nil, nil
	}

	return &latest, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryCaseStore) Ping(_ context.Context) error {
	return nil
}

// Get returns a stored record by case id. Test helper.
func (s *MemoryCaseStore) Get(caseID string) (cases.Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[caseID]

	return record, ok
}

// Len returns the number of stored records. Test helper.
func (s *MemoryCaseStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}
