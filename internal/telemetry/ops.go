package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CityOfBoston/case-indexer/internal/config"
)

const (
	defaultOpsAddr            = ":9102"
	defaultOpsReadTimeout     = 5 * time.Second
	defaultOpsWriteTimeout    = 10 * time.Second
	defaultOpsShutdownTimeout = 5 * time.Second
)

// OpsConfig holds configuration for the operational HTTP listener.
type OpsConfig struct {
	Enabled         bool
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoadOpsConfig loads the ops listener configuration from environment variables.
func LoadOpsConfig() *OpsConfig {
	return &OpsConfig{
		Enabled:         config.GetEnvBool("OPS_ENABLED", true),
		Addr:            config.GetEnvStr("OPS_ADDR", defaultOpsAddr),
		ReadTimeout:     config.GetEnvDuration("OPS_READ_TIMEOUT", defaultOpsReadTimeout),
		WriteTimeout:    config.GetEnvDuration("OPS_WRITE_TIMEOUT", defaultOpsWriteTimeout),
		ShutdownTimeout: config.GetEnvDuration("OPS_SHUTDOWN_TIMEOUT", defaultOpsShutdownTimeout),
	}
}

// OpsServer serves /healthz and /metrics. It carries no domain API surface;
// the pipeline's only externally-facing contract is its exit code, and this
// listener exists purely so a scraper and a liveness probe can see inside.
type OpsServer struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *OpsConfig
}

// NewOpsServer creates the operational listener. Passing nil metrics disables
// the /metrics endpoint (health only).
func NewOpsServer(cfg *OpsConfig, logger *slog.Logger, metrics *Metrics) *OpsServer {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return &OpsServer{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
		config: cfg,
	}
}

// Start begins serving in a background goroutine. Listener failure is logged
// but never propagated: losing the ops surface must not take down ingestion.
func (s *OpsServer) Start() {
	go func() {
		s.logger.Info("Starting ops listener",
			slog.String("address", s.config.Addr),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Ops listener failed",
				slog.String("address", s.config.Addr),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Shutdown gracefully stops the listener.
func (s *OpsServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ops listener shutdown failed: %w", err)
	}

	return nil
}
