package telemetry

import "sync"

// Recorder is a Reporter that captures reports in memory. Used by unit tests
// across packages to assert which stage swallowed which failure.
type Recorder struct {
	mu      sync.Mutex
	reports []RecordedReport
}

// RecordedReport is one captured ReportError call.
type RecordedReport struct {
	Err     error
	Context map[string]string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// ReportError captures the report.
func (r *Recorder) ReportError(err error, context map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Copy the context so callers reusing a map can't mutate history.
	copied := make(map[string]string, len(context))
	for key, value := range context {
		copied[key] = value
	}

	r.reports = append(r.reports, RecordedReport{Err: err, Context: copied})
}

// Reports returns a snapshot of all captured reports.
func (r *Recorder) Reports() []RecordedReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]RecordedReport, len(r.reports))
	copy(snapshot, r.reports)

	return snapshot
}

// Count returns the number of captured reports.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.reports)
}

// CountStage returns the number of reports whose context carries the given stage.
func (r *Recorder) CountStage(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, report := range r.reports {
		if report.Context["stage"] == stage {
			count++
		}
	}

	return count
}

var _ Reporter = (*Recorder)(nil)
