package telemetry

import (
	"log/slog"
)

// Reporter is the error-observability sink used by every pipeline stage for
// non-fatal failures. Reports are fire-and-forget: the caller drops the
// failed item and continues, so ReportError must never block or panic.
type Reporter interface {
	// ReportError records a non-fatal failure with contextual key/values.
	// Context maps should carry at least a "stage" key; common extras are
	// "case_id", "batch_id", and "replay_id".
	ReportError(err error, context map[string]string)
}

// SlogReporter implements Reporter by logging through slog and incrementing
// the per-stage error counter. Metrics may be nil (tests, tooling); logging
// still happens.
type SlogReporter struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewSlogReporter creates the production reporter.
func NewSlogReporter(logger *slog.Logger, metrics *Metrics) *SlogReporter {
	return &SlogReporter{logger: logger, metrics: metrics}
}

// ReportError logs the failure with its context attached and bumps the stage
// error counter.
func (r *SlogReporter) ReportError(err error, context map[string]string) {
	if err == nil {
		return
	}

	attrs := make([]any, 0, 2*(len(context)+1))
	attrs = append(attrs, slog.String("error", err.Error()))

	stage := "unknown"

	for key, value := range context {
		if key == "stage" {
			stage = value
		}

		attrs = append(attrs, slog.String(key, value))
	}

	r.logger.Error("Pipeline stage failure", attrs...)

	if r.metrics != nil {
		r.metrics.StageErrors.WithLabelValues(stage).Inc()
	}
}

var _ Reporter = (*SlogReporter)(nil)
