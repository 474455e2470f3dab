// Package main provides the 311 case indexer service.
//
// The indexer subscribes to the Salesforce case change channel, resolves
// change events to authoritative case records through the 311 read API, and
// keeps the search index and classifier suggestions synchronized. On any
// channel-level failure the process exits and its supervisor restarts it;
// replay-id resume makes that restart lossless.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/CityOfBoston/case-indexer/internal/archive"
	"github.com/CityOfBoston/case-indexer/internal/cases"
	"github.com/CityOfBoston/case-indexer/internal/classify"
	"github.com/CityOfBoston/case-indexer/internal/config"
	"github.com/CityOfBoston/case-indexer/internal/index"
	"github.com/CityOfBoston/case-indexer/internal/open311"
	"github.com/CityOfBoston/case-indexer/internal/pipeline"
	"github.com/CityOfBoston/case-indexer/internal/streaming"
	"github.com/CityOfBoston/case-indexer/internal/telemetry"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "case-indexer"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting case indexer",
		slog.String("service", name),
		slog.String("version", version),
	)

	os.Exit(run(logger))
}

// run wires the pipeline and blocks until shutdown. Returns the process
// exit code: 0 for a signal-triggered shutdown, 1 for startup failures and
// channel-level errors, so the supervisor restarts only broken runs.
func run(logger *slog.Logger) int {
	salesforceConfig := streaming.LoadSalesforceConfig()
	if err := salesforceConfig.Validate(); err != nil {
		logger.Error("Invalid streaming configuration", slog.String("error", err.Error()))

		return 1
	}

	open311Config := open311.LoadConfig()
	if err := open311Config.Validate(); err != nil {
		logger.Error("Invalid case API configuration", slog.String("error", err.Error()))

		return 1
	}

	pipelineConfig := pipeline.LoadConfig()
	if err := pipelineConfig.Validate(); err != nil {
		logger.Error("Invalid pipeline configuration", slog.String("error", err.Error()))

		return 1
	}

	indexConfig := index.LoadConfig()
	if err := indexConfig.Validate(); err != nil {
		logger.Error("Invalid index configuration", slog.String("error", err.Error()))

		return 1
	}

	logger.Info("Loaded configuration",
		slog.String("streaming", salesforceConfig.String()),
		slog.String("case_api", open311Config.String()),
		slog.String("pipeline", pipelineConfig.String()),
		slog.String("database_url", indexConfig.MaskDatabaseURL()),
	)

	conn, err := index.NewConnection(indexConfig)
	if err != nil {
		logger.Error("Failed to connect to index database", slog.String("error", err.Error()))

		return 1
	}

	defer func() {
		_ = conn.Close()
	}()

	store, err := index.NewCaseStore(conn)
	if err != nil {
		logger.Error("Failed to initialize case store", slog.String("error", err.Error()))

		return 1
	}

	metrics := telemetry.NewMetrics()
	reporter := telemetry.NewSlogReporter(logger, metrics)

	opsConfig := telemetry.LoadOpsConfig()
	if opsConfig.Enabled {
		opsServer := telemetry.NewOpsServer(opsConfig, logger, metrics)
		opsServer.Start()

		defer func() {
			if err := opsServer.Shutdown(); err != nil {
				logger.Warn("Ops listener shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	subscriber := streaming.NewClient(salesforceConfig, logger)
	caseClient := open311.NewClient(open311Config)
	loader := pipeline.NewLoader(caseClient, reporter, pipelineConfig.LoadConcurrency)

	classifyConfig := classify.LoadConfig()

	var classifier pipeline.Classifier

	if classifyConfig.Enabled() {
		if err := classifyConfig.Validate(); err != nil {
			logger.Error("Invalid classifier configuration", slog.String("error", err.Error()))

			return 1
		}

		rules := classify.LoadRules(classifyConfig.RulesPath, logger)
		classifier = classify.NewUpdater(
			classify.NewClient(classifyConfig),
			store,
			rules,
			reporter,
			metrics,
			classifyConfig.Concurrency,
		)

		logger.Info("Classifier enabled", slog.String("config", classifyConfig.String()))
	} else {
		classifier = noopClassifier{}

		logger.Warn("Classifier disabled",
			slog.String("note", "Set PREDICTION_ENDPOINT to enable category suggestions"),
		)
	}

	var archiver pipeline.Archiver

	archiveConfig := archive.LoadConfig()
	if archiveConfig.Enabled() {
		writer := archive.NewWriter(archiveConfig, reporter, metrics)

		defer func() {
			_ = writer.Close()
		}()

		archiver = writer

		logger.Info("Archive feed enabled",
			slog.String("topic", archiveConfig.Topic),
			slog.Int("brokers", len(archiveConfig.Brokers)),
		)
	}

	coordinator := pipeline.NewCoordinator(pipeline.CoordinatorParams{
		Config:     pipelineConfig,
		Subscriber: subscriber,
		Sink:       caseClient,
		Loader:     loader,
		Store:      store,
		Classifier: classifier,
		Archiver:   archiver,
		Reporter:   reporter,
		Metrics:    metrics,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Run(ctx); err != nil {
		logger.Error("Pipeline terminated", slog.String("error", err.Error()))

		return 1
	}

	logger.Info("Case indexer stopped")

	return 0
}

// noopClassifier stands in when no prediction endpoint is configured.
type noopClassifier struct{}

func (noopClassifier) Update(context.Context, []cases.Case) {}
