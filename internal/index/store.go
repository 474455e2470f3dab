package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CityOfBoston/case-indexer/internal/cases"
)

// Sentinel errors for case index operations.
var (
	// ErrUpsertFailed is returned inside a batch result when one record
	// could not be persisted.
	ErrUpsertFailed = errors.New("case upsert failed")

	// ErrSuggestionFailed is returned when a classifier suggestion write fails.
	ErrSuggestionFailed = errors.New("suggestion upsert failed")
)

// CaseStore implements the pipeline's persistence interface.
var _ cases.Store = (*CaseStore)(nil)

// CaseStore implements cases.Store with a PostgreSQL backend.
//
// Upserts are keyed by case_id and carry the replay id the record was
// discovered at. replay_id only ever advances (GREATEST on conflict), which
// preserves the resume invariant even if a stale batch lands late.
type CaseStore struct {
	conn *Connection
}

// NewCaseStore creates a PostgreSQL-backed case store.
func NewCaseStore(conn *Connection) (*CaseStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &CaseStore{conn: conn}, nil
}

const upsertCaseQuery = `
	INSERT INTO cases (
		case_id, replay_id, service_code, service_name, status, description,
		address, latitude, longitude, media_url, requested_at, case_updated_at,
		indexed_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
	ON CONFLICT (case_id) DO UPDATE SET
		replay_id       = GREATEST(cases.replay_id, EXCLUDED.replay_id),
		service_code    = EXCLUDED.service_code,
		service_name    = EXCLUDED.service_name,
		status          = EXCLUDED.status,
		description     = EXCLUDED.description,
		address         = EXCLUDED.address,
		latitude        = EXCLUDED.latitude,
		longitude       = EXCLUDED.longitude,
		media_url       = EXCLUDED.media_url,
		requested_at    = EXCLUDED.requested_at,
		case_updated_at = EXCLUDED.case_updated_at,
		indexed_at      = now()
`

// UpsertCases persists a batch of loaded cases with per-record isolation: a
// failed record carries its error in the matching result and the rest of the
// batch proceeds.
func (s *CaseStore) UpsertCases(ctx context.Context, batch []cases.Case) []cases.UpsertResult {
	results := make([]cases.UpsertResult, 0, len(batch))

	for _, record := range batch {
		_, err := s.conn.ExecContext(ctx, upsertCaseQuery,
			record.ID,
			record.ReplayID,
			record.ServiceCode,
			record.ServiceName,
			record.Status,
			record.Description,
			record.Address,
			record.Latitude,
			record.Longitude,
			record.MediaURL,
			nullTime(record.RequestedAt),
			nullTime(record.UpdatedAt),
		)
		if err != nil {
			err = fmt.Errorf("%w: case %s: %v", ErrUpsertFailed, record.ID, err)
		}

		results = append(results, cases.UpsertResult{CaseID: record.ID, Err: err})
	}

	return results
}

const upsertSuggestionQuery = `
	INSERT INTO cases (case_id, replay_id, suggested_category, suggestion_confidence)
	VALUES ($1, 0, $2, $3)
	ON CONFLICT (case_id) DO UPDATE SET
		suggested_category    = EXCLUDED.suggested_category,
		suggestion_confidence = EXCLUDED.suggestion_confidence
`

// UpsertSuggestion records a classifier suggestion touching only the
// suggestion columns, so it commutes with the indexer's case upsert. When the
// suggestion lands first, the placeholder row carries replay_id 0 and never
// affects resume (GREATEST advances it when the case upsert arrives).
func (s *CaseStore) UpsertSuggestion(ctx context.Context, caseID, category string, confidence float64) error {
	if _, err := s.conn.ExecContext(ctx, upsertSuggestionQuery, caseID, category, confidence); err != nil {
		return fmt.Errorf("%w: case %s: %v", ErrSuggestionFailed, caseID, err)
	}

	return nil
}

// LatestReplayID returns the maximum replay id across all indexed records,
// or nil when the index is empty. Suggestion placeholder rows (replay_id 0)
// are excluded so they can never masquerade as progress.
func (s *CaseStore) LatestReplayID(ctx context.Context) (*int64, error) {
	var latest sql.NullInt64

	row := s.conn.QueryRowContext(ctx, `SELECT MAX(replay_id) FROM cases WHERE replay_id > 0`)
	if err := row.Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to query latest replay id: %w", err)
	}

	if !latest.Valid {
		return nil, nil
	}

	return &latest.Int64, nil
}

// Ping verifies index connectivity.
func (s *CaseStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// SearchResult is one full-text search hit with its relevance rank.
type SearchResult struct {
	Case cases.Case
	Rank float64
}

const searchQuery = `
	SELECT case_id, replay_id, coalesce(service_code, ''), coalesce(service_name, ''),
	       coalesce(status, ''), coalesce(description, ''), coalesce(address, ''),
	       coalesce(latitude, 0), coalesce(longitude, 0), coalesce(media_url, ''),
	       coalesce(suggested_category, ''), coalesce(suggestion_confidence, 0),
	       ts_rank(search_vector, websearch_to_tsquery('english', $1)) AS rank
	FROM cases
	WHERE search_vector @@ websearch_to_tsquery('english', $1)
	ORDER BY rank DESC
	LIMIT $2
`

// Search runs a full-text query over the index. This is the read surface the
// web layer consumes; the pipeline itself never calls it.
func (s *CaseStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	rows, err := s.conn.QueryContext(ctx, searchQuery, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var results []SearchResult

	for rows.Next() {
		var result SearchResult

		err := rows.Scan(
			&result.Case.ID,
			&result.Case.ReplayID,
			&result.Case.ServiceCode,
			&result.Case.ServiceName,
			&result.Case.Status,
			&result.Case.Description,
			&result.Case.Address,
			&result.Case.Latitude,
			&result.Case.Longitude,
			&result.Case.MediaURL,
			&result.Case.SuggestedCategory,
			&result.Case.SuggestionConfidence,
			&result.Rank,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}

		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search iteration failed: %w", err)
	}

	return results, nil
}

// nullTime maps the zero time to NULL so unknown timestamps stay unknown in
// the index instead of becoming year one.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t
}
