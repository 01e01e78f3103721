package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/railvision/wagon-capture/internal/capture"
	"github.com/railvision/wagon-capture/internal/config"
	"github.com/railvision/wagon-capture/internal/export"
	"github.com/railvision/wagon-capture/internal/logger"
	"github.com/railvision/wagon-capture/internal/recorder"
	"github.com/railvision/wagon-capture/internal/source"
)

func main() {
	var (
		configPath string
		input      string
		outDir     string
		videoOut   string
		endpoint   string
		logLevel   string
		logColor   bool
	)

	cfg := config.DefaultConfig()

	flag.StringVar(&configPath, "config", "", "JSON config file")
	flag.StringVar(&input, "input", "", "Video file or directory of frames")
	flag.StringVar(&outDir, "out", "./captures", "Directory for captured wagon images")
	flag.StringVar(&videoOut, "video", "", "Write every input frame to this video (.mjpeg, or any container with -tags opencv)")
	flag.StringVar(&endpoint, "detector", "", "Inference endpoint (overrides config)")
	flag.IntVar(&cfg.Capture.CaptureDelay, "delay", cfg.Capture.CaptureDelay, "Capture delay in frames")
	flag.Float64Var(&cfg.Capture.ConfidenceThreshold, "conf", cfg.Capture.ConfidenceThreshold, "Minimum detection confidence")
	flag.BoolVar(&cfg.Capture.Annotate, "annotate", cfg.Capture.Annotate, "Draw detections on the passthrough video")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		// flags given explicitly win over the file
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "delay":
				loaded.Capture.CaptureDelay = cfg.Capture.CaptureDelay
			case "conf":
				loaded.Capture.ConfidenceThreshold = cfg.Capture.ConfidenceThreshold
			case "annotate":
				loaded.Capture.Annotate = cfg.Capture.Annotate
			}
		})
		cfg = loaded
	}
	if endpoint != "" {
		cfg.Detector.Backend = "http"
		cfg.Detector.Endpoint = endpoint
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if input == "" {
		fmt.Fprintln(os.Stderr, "usage: wagon-capture -input <video|dir> [-out dir] [-video out.mjpeg]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Level(), os.Stderr, logColor)

	detector, closeDetector, err := cfg.NewDetector()
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}
	defer closeDetector()

	extractor, err := capture.NewExtractor(cfg.Capture, detector, nil)
	if err != nil {
		log.Fatalf("Failed to create extractor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in := capture.Input{
		OpenSource: func() (source.Source, error) {
			return source.Open(input, cfg.SourceOptions())
		},
		Progress: func(p capture.Progress) {
			if p.Total > 0 {
				logger.Info("Main", "Processed %d/%d frames", p.Processed, p.Total)
			} else {
				logger.Info("Main", "Processed %d frames", p.Processed)
			}
		},
	}
	if videoOut != "" {
		in.OpenSink = func(info source.Info) (recorder.Sink, error) {
			return recorder.Open(videoOut, info, recorder.Options{
				JPEGQuality: cfg.Jobs.JPEGQuality,
				Annotate:    cfg.Capture.Annotate,
			})
		}
	}

	result, err := extractor.Run(ctx, in)
	if err != nil {
		logger.Error("Main", "%v", err)
		stop()
		closeDetector()
		os.Exit(1)
	}

	paths, err := export.SaveCaptures(outDir, result, cfg.Jobs.JPEGQuality)
	if err != nil {
		logger.Error("Main", "Saving captures: %v", err)
		stop()
		closeDetector()
		os.Exit(1)
	}
	for _, p := range paths {
		logger.Debug("Main", "Wrote %s", p)
	}
	fmt.Printf("%d wagons captured\n", result.Count)
}
