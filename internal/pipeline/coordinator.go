package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CityOfBoston/case-indexer/internal/cases"
	"github.com/CityOfBoston/case-indexer/internal/streaming"
	"github.com/CityOfBoston/case-indexer/internal/telemetry"
)

// ErrChannelDisconnected is returned by Run when the streaming channel
// closes outside of a caller-initiated shutdown. The process restarts under
// its supervisor and resumes from the last indexed replay id.
var ErrChannelDisconnected = errors.New("streaming channel disconnected")

type (
	// Subscriber is the consumer-side view of the streaming client.
	Subscriber interface {
		Connect(ctx context.Context, resumeReplayID *int64) (*streaming.Session, error)
		Events() <-chan cases.ChangeEvent
		Errors() <-chan error
		Disconnected() <-chan struct{}
		Disconnect(ctx context.Context) error
	}

	// SessionSink receives the authenticated session exactly once after
	// Connect resolves. The 311 read client implements this.
	SessionSink interface {
		SetSession(session *streaming.Session) error
	}

	// Classifier updates category suggestions for a loaded batch. Best
	// effort: implementations report their own failures and never error.
	Classifier interface {
		Update(ctx context.Context, batch []cases.Case)
	}

	// Archiver records raw change events to an audit feed. Best effort.
	Archiver interface {
		Archive(ctx context.Context, events []cases.ChangeEvent)
	}
)

// Coordinator owns the pipeline topology and the process-level shutdown
// policy. One Run per process lifetime.
type Coordinator struct {
	config     *Config
	subscriber Subscriber
	sink       SessionSink
	loader     *Loader
	store      cases.Store
	classifier Classifier
	archiver   Archiver
	reporter   telemetry.Reporter
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// CoordinatorParams collects the collaborators Run wires together. Archiver
// may be nil (archiving disabled).
type CoordinatorParams struct {
	Config     *Config
	Subscriber Subscriber
	Sink       SessionSink
	Loader     *Loader
	Store      cases.Store
	Classifier Classifier
	Archiver   Archiver
	Reporter   telemetry.Reporter
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// NewCoordinator creates the pipeline coordinator.
func NewCoordinator(params CoordinatorParams) *Coordinator {
	return &Coordinator{
		config:     params.Config,
		subscriber: params.Subscriber,
		sink:       params.Sink,
		loader:     params.Loader,
		store:      params.Store,
		classifier: params.Classifier,
		archiver:   params.Archiver,
		reporter:   params.Reporter,
		metrics:    params.Metrics,
		logger:     params.Logger,
	}
}

// Run connects the subscription and processes windows until the context is
// cancelled or the channel fails. Returns nil on caller-initiated shutdown,
// ErrChannelDisconnected when the channel closed on its own, or the channel
// error otherwise. In-flight windows are drained before return.
func (c *Coordinator) Run(ctx context.Context) error {
	resume := c.resumePoint(ctx)

	session, err := c.subscriber.Connect(ctx, resume)
	if err != nil {
		return err
	}

	if err := c.sink.SetSession(session); err != nil {
		return err
	}

	window := NewWindow(c.config.MaxBatchSize)
	ticker := time.NewTicker(c.config.WindowPeriod)
	defer ticker.Stop()

	var inflight sync.WaitGroup

	var terminal error

loop:
	for {
		select {
		case event := <-c.subscriber.Events():
			c.metrics.EventsReceived.Inc()

			if batch := window.Add(event); batch != nil {
				c.processWindow(ctx, batch, &inflight)
			}

		case <-ticker.C:
			if batch := window.Flush(); batch != nil {
				c.processWindow(ctx, batch, &inflight)
			}

		case err := <-c.subscriber.Errors():
			terminal = err

			break loop

		case <-c.subscriber.Disconnected():
			terminal = ErrChannelDisconnected

			break loop

		case <-ctx.Done():
			break loop
		}
	}

	c.shutdown(window, &inflight)

	return terminal
}

// resumePoint queries the index for the highest stored replay id. Both the
// connectivity probe and the query are best effort: an unreachable index
// means "start from the earliest retained event", not a startup failure.
func (c *Coordinator) resumePoint(ctx context.Context) *int64 {
	if err := c.store.Ping(ctx); err != nil {
		c.logger.Warn("Index connectivity check failed",
			slog.String("error", err.Error()),
		)
	}

	replayID, err := c.store.LatestReplayID(ctx)
	if err != nil {
		c.logger.Warn("Resume point lookup failed, starting from earliest retained event",
			slog.String("error", err.Error()),
		)

		return nil
	}

	if replayID == nil {
		c.logger.Info("Index is empty, starting from earliest retained event")

		return nil
	}

	c.logger.Info("Resuming subscription",
		slog.Int64("replay_id", *replayID),
	)

	return replayID
}

// processWindow runs one closed window through coalesce, load, and fan-out.
// Loading happens inline so windows load sequentially; the index upsert and
// classifier update for a window run concurrently off the same loaded slice
// and may overlap the next window's intake. Shutdown waits for them all.
func (c *Coordinator) processWindow(ctx context.Context, batch []cases.ChangeEvent, inflight *sync.WaitGroup) {
	batchID := uuid.NewString()

	if c.archiver != nil {
		c.archiver.Archive(ctx, batch)
	}

	refs := cases.Coalesce(batch)
	if len(refs) == 0 {
		return
	}

	c.metrics.WindowsFlushed.Inc()
	c.metrics.WindowSize.Observe(float64(len(refs)))

	c.logger.Debug("Processing window",
		slog.String("batch_id", batchID),
		slog.Int("events", len(batch)),
		slog.Int("refs", len(refs)),
		slog.Int64("max_replay_id", cases.MaxReplayID(refs)),
	)

	loaded := c.loader.Load(ctx, refs)
	c.metrics.CasesLoaded.Add(float64(len(loaded)))

	if len(loaded) == 0 {
		return
	}

	inflight.Add(2)

	go func() {
		defer inflight.Done()
		c.indexBatch(ctx, batchID, loaded)
	}()

	go func() {
		defer inflight.Done()
		c.classifier.Update(ctx, loaded)
	}()
}

// indexBatch upserts one loaded batch, reporting per-record failures.
func (c *Coordinator) indexBatch(ctx context.Context, batchID string, loaded []cases.Case) {
	indexed := 0

	for _, result := range c.store.UpsertCases(ctx, loaded) {
		if result.Err != nil {
			c.reporter.ReportError(result.Err, map[string]string{
				"stage":    "index",
				"batch_id": batchID,
				"case_id":  result.CaseID,
			})

			continue
		}

		indexed++
	}

	c.metrics.RecordsIndexed.Add(float64(indexed))
}

// shutdown flushes the final window, waits for in-flight fan-out, and tears
// down the subscription.
func (c *Coordinator) shutdown(window *Window, inflight *sync.WaitGroup) {
	drainCtx, cancel := context.WithTimeout(context.Background(), c.config.DrainTimeout)
	defer cancel()

	if batch := window.Flush(); batch != nil {
		c.processWindow(drainCtx, batch, inflight)
	}

	inflight.Wait()

	if err := c.subscriber.Disconnect(drainCtx); err != nil && !errors.Is(err, streaming.ErrNotConnected) {
		c.logger.Warn("Subscription teardown failed",
			slog.String("error", err.Error()),
		)
	}

	c.logger.Info("Pipeline stopped")
}
