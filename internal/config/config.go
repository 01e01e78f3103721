// Package config loads the runtime configuration shared by the commands.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/railvision/wagon-capture/internal/capture"
	"github.com/railvision/wagon-capture/internal/detect"
	"github.com/railvision/wagon-capture/internal/jobs"
	"github.com/railvision/wagon-capture/internal/logger"
	"github.com/railvision/wagon-capture/internal/source"
)

const maxFileSize = 1 << 20

// Config is the root configuration. Fields omitted from a config file keep
// their DefaultConfig values.
type Config struct {
	LogLevel string         `json:"log_level"`
	Capture  capture.Config `json:"capture"`
	Detector DetectorConfig `json:"detector"`
	Jobs     JobsConfig     `json:"jobs"`
	Server   ServerConfig   `json:"server"`
}

// DetectorConfig selects and tunes the detection backend.
type DetectorConfig struct {
	Backend      string  `json:"backend"` // "http" or "yolo"
	Endpoint     string  `json:"endpoint"`
	Timeout      string  `json:"timeout"` // duration string like "10s"
	JPEGQuality  int     `json:"jpeg_quality"`
	ModelPath    string  `json:"model_path"`
	InputSize    int     `json:"input_size"`
	NMSThreshold float64 `json:"nms_threshold"`
	UseCUDA      bool    `json:"use_cuda"`
}

// JobsConfig sizes the background worker pool.
type JobsConfig struct {
	Workers     int     `json:"workers"`
	QueueSize   int     `json:"queue_size"`
	Retain      int     `json:"retain"`
	OutputDir   string  `json:"output_dir"`
	VideoExt    string  `json:"video_ext"`
	JPEGQuality int     `json:"jpeg_quality"`
	SequenceFPS float64 `json:"sequence_fps"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr            string `json:"addr"`
	MetricsAddr     string `json:"metrics_addr"`
	EnablePprof     bool   `json:"enable_pprof"`
	HistoryDB       string `json:"history_db"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Capture:  capture.DefaultConfig(),
		Detector: DetectorConfig{
			Backend:      "http",
			Endpoint:     "http://localhost:8500/predict",
			Timeout:      "10s",
			JPEGQuality:  90,
			InputSize:    640,
			NMSThreshold: 0.45,
		},
		Jobs: JobsConfig{
			Workers:     1,
			QueueSize:   16,
			Retain:      100,
			OutputDir:   "./captures",
			VideoExt:    ".mjpeg",
			JPEGQuality: 90,
			SequenceFPS: 25,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			HistoryDB:       "./wagon-runs.db",
			ShutdownTimeout: "10s",
		},
	}
}

// Load reads a JSON config file over the defaults. The file must have a
// .json extension and be at most 1MB.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.Capture.Validate(); err != nil {
		return err
	}

	switch c.Detector.Backend {
	case "http":
		if c.Detector.Endpoint == "" {
			return fmt.Errorf("detector.endpoint is required for the http backend")
		}
	case "yolo":
		if c.Detector.ModelPath == "" {
			return fmt.Errorf("detector.model_path is required for the yolo backend")
		}
	default:
		return fmt.Errorf("unknown detector backend %q", c.Detector.Backend)
	}
	if _, err := parseDuration("detector.timeout", c.Detector.Timeout); err != nil {
		return err
	}
	if _, err := parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout); err != nil {
		return err
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be >= 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("jobs.queue_size must be >= 1, got %d", c.Jobs.QueueSize)
	}
	if c.Jobs.VideoExt != "" && !strings.HasPrefix(c.Jobs.VideoExt, ".") {
		return fmt.Errorf("jobs.video_ext must start with a dot, got %q", c.Jobs.VideoExt)
	}
	if q := c.Jobs.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("jobs.jpeg_quality must be in [1,100], got %d", q)
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", field, s, err)
	}
	return d, nil
}

// Level returns the parsed log level, INFO when unparsable.
func (c Config) Level() logger.LogLevel {
	l, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.INFO
	}
	return l
}

// ShutdownTimeoutDuration returns the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, _ := parseDuration("server.shutdown_timeout", c.ShutdownTimeout)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// JobsManagerConfig converts the jobs section for jobs.NewManager.
func (c Config) JobsManagerConfig() jobs.Config {
	return jobs.Config{
		Workers:     c.Jobs.Workers,
		QueueSize:   c.Jobs.QueueSize,
		Retain:      c.Jobs.Retain,
		OutputDir:   c.Jobs.OutputDir,
		VideoExt:    c.Jobs.VideoExt,
		JPEGQuality: c.Jobs.JPEGQuality,
		Annotate:    c.Capture.Annotate,
		Source:      c.SourceOptions(),
	}
}

// SourceOptions returns the options used to open inputs.
func (c Config) SourceOptions() source.Options {
	return source.Options{SequenceFPS: c.Jobs.SequenceFPS}
}

// NewDetector builds the configured backend. The returned close function
// releases backend resources and is never nil.
func (c Config) NewDetector() (detect.Detector, func() error, error) {
	noop := func() error { return nil }
	switch c.Detector.Backend {
	case "http":
		timeout, _ := parseDuration("detector.timeout", c.Detector.Timeout)
		d, err := detect.NewHTTPDetector(detect.HTTPConfig{
			Endpoint:      c.Detector.Endpoint,
			Timeout:       timeout,
			MinConfidence: c.Capture.ConfidenceThreshold,
			JPEGQuality:   c.Detector.JPEGQuality,
		})
		if err != nil {
			return nil, noop, err
		}
		return d, noop, nil
	case "yolo":
		d, err := detect.NewYOLO(detect.YOLOConfig{
			ModelPath:     c.Detector.ModelPath,
			InputSize:     c.Detector.InputSize,
			MinConfidence: c.Capture.ConfidenceThreshold,
			NMSThreshold:  c.Detector.NMSThreshold,
			UseCUDA:       c.Detector.UseCUDA,
		})
		if err != nil {
			return nil, noop, err
		}
		return detect.NewSerialized(d), d.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown detector backend %q", c.Detector.Backend)
	}
}
