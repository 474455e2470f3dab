// Package archive writes raw change events to a Kafka topic as an audit and
// offline-replay feed. Archiving is optional and strictly best effort: a
// down broker never blocks or fails the ingestion pipeline.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/CityOfBoston/case-indexer/internal/cases"
	"github.com/CityOfBoston/case-indexer/internal/config"
	"github.com/CityOfBoston/case-indexer/internal/telemetry"
)

const (
	defaultTopic        = "case-change-events"
	defaultBatchTimeout = 200 * time.Millisecond
	defaultWriteTimeout = 5 * time.Second
)

// Config holds archive feed settings. An empty broker list disables the
// feed.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// LoadConfig loads archive configuration from environment variables.
// ARCHIVE_KAFKA_BROKERS is a comma-separated list; empty disables archiving.
func LoadConfig() *Config {
	brokers := config.GetEnvStr("ARCHIVE_KAFKA_BROKERS", "")

	cfg := &Config{
		Topic:        config.GetEnvStr("ARCHIVE_KAFKA_TOPIC", defaultTopic),
		BatchTimeout: config.GetEnvDuration("ARCHIVE_KAFKA_BATCH_TIMEOUT", defaultBatchTimeout),
		WriteTimeout: config.GetEnvDuration("ARCHIVE_KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}

	if brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			if trimmed := strings.TrimSpace(broker); trimmed != "" {
				cfg.Brokers = append(cfg.Brokers, trimmed)
			}
		}
	}

	return cfg
}

// Enabled reports whether the archive feed is configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// archivedEvent is the wire shape of one archived change event.
type archivedEvent struct {
	CaseID   string    `json:"caseId"`
	ReplayID int64     `json:"replayId"`
	Status   string    `json:"status"`
	Received time.Time `json:"received"`
}

// Writer publishes change events keyed by case id so per-case ordering is
// preserved within a partition.
type Writer struct {
	writer   *kafka.Writer
	reporter telemetry.Reporter
	metrics  *telemetry.Metrics
	timeout  time.Duration
}

// NewWriter creates the archive writer. Callers must Close it on shutdown to
// flush buffered messages.
func NewWriter(cfg *Config, reporter telemetry.Reporter, metrics *telemetry.Metrics) *Writer {
	return &Writer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			// The feed topic is created on first write in environments
			// where it has not been provisioned ahead of time.
			AllowAutoTopicCreation: true,
		},
		reporter: reporter,
		metrics:  metrics,
		timeout:  cfg.WriteTimeout,
	}
}

// Archive publishes one window of raw events. Failures are reported and
// swallowed.
func (w *Writer) Archive(ctx context.Context, events []cases.ChangeEvent) {
	if len(events) == 0 {
		return
	}

	messages := make([]kafka.Message, 0, len(events))

	for _, event := range events {
		value, err := json.Marshal(archivedEvent{
			CaseID:   event.CaseID,
			ReplayID: event.ReplayID,
			Status:   event.Status,
			Received: event.Received,
		})
		if err != nil {
			w.reporter.ReportError(fmt.Errorf("failed to encode archive event: %w", err), map[string]string{
				"stage":   "archive",
				"case_id": event.CaseID,
			})

			continue
		}

		messages = append(messages, kafka.Message{
			Key:   []byte(event.CaseID),
			Value: value,
		})
	}

	if len(messages) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.writer.WriteMessages(writeCtx, messages...); err != nil {
		w.reporter.ReportError(fmt.Errorf("archive write failed: %w", err), map[string]string{
			"stage": "archive",
		})

		return
	}

	if w.metrics != nil {
		w.metrics.EventsArchived.Add(float64(len(messages)))
	}
}

// Close flushes and closes the underlying Kafka writer.
func (w *Writer) Close() error {
	return w.writer.Close()
}
