package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/railvision/wagon-capture/internal/capture"
	"github.com/railvision/wagon-capture/internal/config"
	"github.com/railvision/wagon-capture/internal/jobs"
	"github.com/railvision/wagon-capture/internal/logger"
	"github.com/railvision/wagon-capture/internal/metrics"
	"github.com/railvision/wagon-capture/internal/runstore"
	"github.com/railvision/wagon-capture/internal/server"
)

var (
	// Command-line flags
	configPath  = flag.String("config", "", "JSON config file (defaults apply when empty)")
	httpAddr    = flag.String("http", "", "HTTP server address (overrides config)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (overrides config)")
	outputDir   = flag.String("output", "", "Capture output directory (overrides config)")
	workers     = flag.Int("workers", 0, "Worker count (overrides config)")
	enablePprof = flag.Bool("pprof", false, "Mount /debug/pprof on the HTTP server")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Level(), os.Stderr, *logColor)
	logger.Info("Main", "Wagon capture server starting...")
	logger.Info("Main", "Log level: %s", cfg.LogLevel)

	if cfg.Jobs.OutputDir != "" {
		if err := os.MkdirAll(cfg.Jobs.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	m := metrics.New()

	detector, closeDetector, err := cfg.NewDetector()
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}
	defer closeDetector()
	logger.Info("Main", "Detector backend: %s", cfg.Detector.Backend)

	extractor, err := capture.NewExtractor(cfg.Capture, detector, m)
	if err != nil {
		log.Fatalf("Failed to create extractor: %v", err)
	}

	var store *runstore.Store
	if cfg.Server.HistoryDB != "" {
		store, err = runstore.Open(cfg.Server.HistoryDB)
		if err != nil {
			log.Fatalf("Failed to open run history: %v", err)
		}
		defer store.Close()
	}

	mgr := jobs.NewManager(cfg.JobsManagerConfig(), extractor, store, m)
	api := server.New(server.Options{EnablePprof: cfg.Server.EnablePprof}, mgr, store, m)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Handler(),
	}

	logger.Info("Main", "  HTTP server: %s", cfg.Server.Addr)
	logger.Info("Main", "  Metrics server: %s", cfg.Server.MetricsAddr)
	logger.Info("Main", "  Output: %s", cfg.Jobs.OutputDir)
	logger.Info("Main", "  Workers: %d (queue %d)", cfg.Jobs.Workers, cfg.Jobs.QueueSize)

	if cfg.Server.MetricsAddr != "" {
		go func() {
			if err := m.StartServer(cfg.Server.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := shutdown(httpServer, mgr, cfg.Server.ShutdownTimeoutDuration()); err != nil {
		logger.Warn("Main", "Shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// shutdown stops the job manager before the HTTP server. Event streams stay
// open until the manager closes its broadcaster, so the HTTP server can only
// drain after that. Each step gets its own timeout.
func shutdown(httpServer *http.Server, mgr *jobs.Manager, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	jobsErr := mgr.Shutdown(ctx)
	cancel()
	if jobsErr != nil {
		jobsErr = fmt.Errorf("jobs: %w", jobsErr)
	}

	ctx, cancel = context.WithTimeout(context.Background(), timeout)
	defer cancel()
	httpErr := httpServer.Shutdown(ctx)
	if httpErr != nil {
		httpErr = fmt.Errorf("http: %w", httpErr)
	}
	return errors.Join(jobsErr, httpErr)
}

func applyFlags(cfg *config.Config) {
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}
	if *outputDir != "" {
		cfg.Jobs.OutputDir = *outputDir
	}
	if *workers > 0 {
		cfg.Jobs.Workers = *workers
	}
	if *enablePprof {
		cfg.Server.EnablePprof = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
}
