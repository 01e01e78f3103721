// Package capture runs the wagon-pass capture over a frame stream: detection,
// the delay window, the pass state machine and the capture accumulator.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/railvision/wagon-capture/internal/detect"
	"github.com/railvision/wagon-capture/internal/logger"
	"github.com/railvision/wagon-capture/internal/metrics"
	"github.com/railvision/wagon-capture/internal/recorder"
	"github.com/railvision/wagon-capture/internal/source"
	"github.com/railvision/wagon-capture/internal/window"
	"github.com/railvision/wagon-capture/pkg/types"
)

// Config holds the capture parameters.
type Config struct {
	TargetClassID       int     `json:"target_class_id"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	CaptureDelay        int     `json:"capture_delay"`
	ProgressInterval    int     `json:"progress_interval"`
	Annotate            bool    `json:"annotate"`
}

// DefaultConfig returns the default capture parameters.
func DefaultConfig() Config {
	return Config{
		TargetClassID:       1,
		ConfidenceThreshold: 0.6,
		CaptureDelay:        5,
		ProgressInterval:    20,
	}
}

// WindowSize is the number of frames held by the delay window.
func (c Config) WindowSize() int { return c.CaptureDelay + 1 }

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.CaptureDelay < 0 {
		return fmt.Errorf("capture_delay must be >= 0, got %d", c.CaptureDelay)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %g", c.ConfidenceThreshold)
	}
	if c.ProgressInterval <= 0 {
		return fmt.Errorf("progress_interval must be > 0, got %d", c.ProgressInterval)
	}
	return nil
}

// Progress reports frames processed so far. Total is 0 when the source does
// not know its length.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// ProgressFunc receives progress reports. It runs on the run's goroutine.
type ProgressFunc func(Progress)

// Input describes one run. The extractor opens and closes both ends.
type Input struct {
	OpenSource func() (source.Source, error)
	// OpenSink creates the passthrough video; nil disables it.
	OpenSink func(source.Info) (recorder.Sink, error)
	Progress ProgressFunc
}

// Extractor runs capture passes with a shared detector. Runs are independent
// and may execute concurrently if the detector allows it.
type Extractor struct {
	cfg     Config
	adapter *detect.Adapter
	metrics *metrics.Metrics
	log     *logger.Module
}

// NewExtractor validates cfg and binds it to d. m may be nil.
func NewExtractor(cfg Config, d detect.Detector, m *metrics.Metrics) (*Extractor, error) {
	if d == nil {
		return nil, errors.New("detector is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg: cfg,
		adapter: &detect.Adapter{
			Detector: d,
			Filter:   detect.Filter{ClassID: cfg.TargetClassID, MinConfidence: cfg.ConfidenceThreshold},
		},
		metrics: m,
		log:     logger.For("Capture"),
	}, nil
}

// Config returns the parameters the extractor was built with.
func (e *Extractor) Config() Config { return e.cfg }

// Run processes the whole stream and returns the captured frames. Any fatal
// condition is returned as *RunError; no partial result is returned with it.
func (e *Extractor) Run(ctx context.Context, in Input) (result types.CaptureResult, err error) {
	start := time.Now()
	r := &run{Extractor: e, progress: in.Progress}
	e.runStarted()
	defer func() {
		e.runFinished(err, time.Since(start))
	}()

	if in.OpenSource == nil {
		return types.CaptureResult{}, &RunError{Err: &SourceOpenError{Err: errors.New("no source")}}
	}
	src, err := in.OpenSource()
	if err != nil {
		return types.CaptureResult{}, r.fail(&SourceOpenError{Err: err})
	}
	defer src.Close()

	info := src.Info()
	r.total = info.TotalFrames
	e.log.Info("Run started (%dx%d @ %.2f fps, %d frames, window %d)",
		info.Width, info.Height, info.FPS, info.TotalFrames, e.cfg.WindowSize())

	if in.OpenSink != nil {
		sink, err := in.OpenSink(info)
		if err != nil {
			return types.CaptureResult{}, r.fail(&SinkWriteError{Op: "open", Err: err})
		}
		r.sink = sink
		defer func() {
			if r.sink == nil {
				return
			}
			if cerr := r.sink.Close(); cerr != nil && err == nil {
				result = types.CaptureResult{}
				err = r.fail(&SinkWriteError{Op: "close", Err: cerr})
			}
		}()
	}

	if err := r.loop(ctx, src); err != nil {
		return types.CaptureResult{}, err
	}

	e.log.Info("Run finished: %d frames, %d passages, %d captures",
		r.processed, r.machine.Passages(), r.acc.Len())
	return r.acc.Result(), nil
}

// run is the state of one Extractor.Run call.
type run struct {
	*Extractor
	progress ProgressFunc
	sink     recorder.Sink

	machine   Machine
	acc       Accumulator
	window    *window.Window[types.FrameRecord]
	total     int
	processed int
	reported  int
}

func (r *run) loop(ctx context.Context, src source.Source) error {
	r.window = window.New[types.FrameRecord](r.cfg.WindowSize())

	for {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return r.fail(cerr)
			}
			return r.fail(&SourceReadError{FrameIndex: r.processed, Err: err})
		}

		if err := r.tick(ctx, frame); err != nil {
			return err
		}
	}

	if f := r.machine.Flush(); f != nil {
		r.emit(f)
	}
	r.countEmptyPassages()
	if r.processed != r.reported || r.processed == 0 {
		r.report()
	}
	return nil
}

func (r *run) tick(ctx context.Context, frame *types.Frame) error {
	began := time.Now()
	rec, err := r.adapter.Record(ctx, frame)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return r.fail(cerr)
		}
		return r.fail(err)
	}
	if r.metrics != nil {
		r.metrics.UpdateDetectLatency(time.Since(began))
	}

	if r.sink != nil {
		if err := recorder.Write(r.sink, rec); err != nil {
			return r.fail(&SinkWriteError{Op: "write", FrameIndex: r.processed, Err: err})
		}
		if r.metrics != nil {
			r.metrics.FramesRecorded.Add(1)
		}
	}

	r.window.Push(rec)
	r.processed++
	if r.metrics != nil {
		r.metrics.FramesProcessed.Add(1)
		if rec.Count() > 0 {
			r.metrics.FramesWithDetections.Add(1)
		}
	}

	if r.window.Ready() {
		newest, _ := r.window.Newest()
		oldest, _ := r.window.Oldest()
		before := r.machine.State()
		if f := r.machine.Step(newest.Count(), &oldest); f != nil {
			r.emit(f)
		}
		if after := r.machine.State(); after != before {
			r.log.Debug("Frame %d: %s -> %s", frame.Index, before, after)
		}
	}

	if r.processed%r.cfg.ProgressInterval == 0 {
		r.report()
	}
	return nil
}

func (r *run) emit(f *types.Frame) {
	r.acc.Add(f)
	if r.metrics != nil {
		r.metrics.Captures.Add(1)
	}
	r.log.Debug("Captured wagon %d from frame %d", r.acc.Len(), f.Index)
}

func (r *run) report() {
	r.reported = r.processed
	if r.progress != nil {
		r.progress(Progress{Processed: r.processed, Total: r.total})
	}
}

func (r *run) countEmptyPassages() {
	if r.metrics == nil {
		return
	}
	if empty := r.machine.Passages() - r.machine.Emitted(); empty > 0 {
		r.metrics.EmptyPassages.Add(uint64(empty))
	}
}

func (r *run) fail(err error) error {
	r.log.Warn("Run aborted after %d frames: %v", r.processed, err)
	return &RunError{Processed: r.processed, Err: err}
}

func (e *Extractor) runStarted() {
	if e.metrics == nil {
		return
	}
	e.metrics.RunsStarted.Add(1)
	e.metrics.ActiveRuns.Add(1)
}

func (e *Extractor) runFinished(err error, took time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ActiveRuns.Add(-1)
	e.metrics.UpdateRunDuration(took)

	var (
		openErr *SourceOpenError
		readErr *SourceReadError
		detErr  *detect.DetectionError
		sinkErr *SinkWriteError
	)
	switch {
	case err == nil:
		e.metrics.RunsCompleted.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.metrics.RunsCancelled.Add(1)
	default:
		e.metrics.RunsFailed.Add(1)
		switch {
		case errors.As(err, &openErr), errors.As(err, &readErr):
			e.metrics.SourceErrors.Add(1)
		case errors.As(err, &detErr):
			e.metrics.DetectionErrors.Add(1)
		case errors.As(err, &sinkErr):
			e.metrics.SinkErrors.Add(1)
		}
	}
}
