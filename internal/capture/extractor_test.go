package capture

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railvision/wagon-capture/internal/detect"
	"github.com/railvision/wagon-capture/internal/metrics"
	"github.com/railvision/wagon-capture/internal/recorder"
	"github.com/railvision/wagon-capture/internal/source"
	"github.com/railvision/wagon-capture/pkg/types"
)

func makeFrames(n int) []*types.Frame {
	frames := make([]*types.Frame, n)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Pix[0] = byte(i)
		frames[i] = &types.Frame{Index: uint64(i), Image: img}
	}
	return frames
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]int) []int {
	var out []int
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func indices(res types.CaptureResult) []uint64 {
	out := []uint64{}
	for _, f := range res.Frames {
		out = append(out, f.Index)
	}
	return out
}

func newTestExtractor(t *testing.T, counts []int) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultConfig(), detect.NewScripted(1, counts...), nil)
	require.NoError(t, err)
	return e
}

func runCounts(t *testing.T, counts []int) types.CaptureResult {
	t.Helper()
	e := newTestExtractor(t, counts)
	res, err := e.Run(context.Background(), Input{
		OpenSource: func() (source.Source, error) {
			return source.FromFrames(makeFrames(len(counts)), 25, false), nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, len(res.Frames), res.Count)
	return res
}

type memSink struct {
	written  []uint64
	failAt   int
	closeErr error
	closed   int
}

func (m *memSink) WriteFrame(f *types.Frame) error {
	if m.failAt > 0 && len(m.written) == m.failAt {
		return errors.New("disk full")
	}
	m.written = append(m.written, f.Index)
	return nil
}

func (m *memSink) Close() error {
	m.closed++
	return m.closeErr
}

func TestRunTwoWagonScenario(t *testing.T) {
	counts := []int{0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1}
	res := runCounts(t, counts)
	if diff := cmp.Diff([]uint64{4, 14}, indices(res)); diff != "" {
		t.Fatalf("captured frames mismatch (-want +got):\n%s", diff)
	}
}

func TestRunAllOnes(t *testing.T) {
	w := DefaultConfig().WindowSize()
	for _, n := range []int{1, w, w + 1, w + 4, 40} {
		res := runCounts(t, repeat(1, n))
		if n <= w {
			assert.Zero(t, res.Count, "n=%d", n)
			continue
		}
		assert.Equal(t, []uint64{uint64(n - w)}, indices(res), "n=%d", n)
	}
}

func TestRunNoDetections(t *testing.T) {
	res := runCounts(t, repeat(0, 30))
	assert.Zero(t, res.Count)
	assert.Empty(t, res.Frames)
}

func TestRunEmptyStream(t *testing.T) {
	res := runCounts(t, nil)
	assert.Zero(t, res.Count)
}

func TestRunLengthDecidesCapture(t *testing.T) {
	w := DefaultConfig().WindowSize()
	for _, length := range []int{1, 3, w - 1, w, w + 1, 2 * w} {
		start := w
		counts := concat(repeat(0, start), repeat(1, length), repeat(0, w))
		res := runCounts(t, counts)
		if length < w {
			assert.Zero(t, res.Count, "run of %d", length)
			continue
		}
		// last frame of the run that still has a full delay behind it
		want := uint64(start + length - w)
		assert.Equal(t, []uint64{want}, indices(res), "run of %d", length)
	}
}

func TestRunSeparatedPassages(t *testing.T) {
	w := DefaultConfig().WindowSize()
	counts := concat(repeat(0, w), repeat(1, 8), repeat(0, w), repeat(1, 10), repeat(0, w))
	res := runCounts(t, counts)
	first := uint64(w + 8 - w)
	second := uint64(w + 8 + w + 10 - w)
	assert.Equal(t, []uint64{first, second}, indices(res))
}

func TestRunTwoWagonsEndPassage(t *testing.T) {
	w := DefaultConfig().WindowSize()
	counts := concat(repeat(0, w), repeat(1, 8), repeat(2, 4), repeat(0, w))
	res := runCounts(t, counts)
	assert.Equal(t, []uint64{uint64(8)}, indices(res))
}

func TestRunFlushesOpenPassage(t *testing.T) {
	w := DefaultConfig().WindowSize()
	counts := concat(repeat(0, w), repeat(1, 8))
	res := runCounts(t, counts)
	assert.Equal(t, []uint64{uint64(8)}, indices(res))
}

func TestRunCapturesAreCopies(t *testing.T) {
	counts := repeat(1, 10)
	frames := makeFrames(len(counts))
	e := newTestExtractor(t, counts)
	res, err := e.Run(context.Background(), Input{
		OpenSource: func() (source.Source, error) { return source.FromFrames(frames, 25, false), nil },
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	got := res.Frames[0]
	assert.NotSame(t, frames[4], got)
	frames[4].Image.(*image.RGBA).Pix[0] = 250
	assert.Equal(t, byte(4), got.Image.(*image.RGBA).Pix[0])
}

func TestRunPassthroughWritesEveryFrameOnce(t *testing.T) {
	counts := []int{0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 1, 1, 1}
	sink := &memSink{}
	var gotInfo source.Info

	e := newTestExtractor(t, counts)
	_, err := e.Run(context.Background(), Input{
		OpenSource: func() (source.Source, error) { return source.FromFrames(makeFrames(len(counts)), 30, false), nil },
		OpenSink: func(info source.Info) (recorder.Sink, error) {
			gotInfo = info
			return sink, nil
		},
	})
	require.NoError(t, err)

	want := make([]uint64, len(counts))
	for i := range want {
		want[i] = uint64(i)
	}
	assert.Equal(t, want, sink.written)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 30.0, gotInfo.FPS)
}

func TestRunProgress(t *testing.T) {
	tests := []struct {
		name      string
		frames    int
		hideTotal bool
		want      []Progress
	}{
		{"known total", 45, false, []Progress{{20, 45}, {40, 45}, {45, 45}}},
		{"unknown total", 45, true, []Progress{{20, 0}, {40, 0}, {45, 0}}},
		{"exact multiple reported once", 40, false, []Progress{{20, 40}, {40, 40}}},
		{"empty stream", 0, false, []Progress{{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Progress
			e := newTestExtractor(t, nil)
			_, err := e.Run(context.Background(), Input{
				OpenSource: func() (source.Source, error) {
					return source.FromFrames(makeFrames(tt.frames), 25, tt.hideTotal), nil
				},
				Progress: func(p Progress) { got = append(got, p) },
			})
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("progress mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := source.FromFrames(makeFrames(100), 25, false)
	sink := &memSink{}
	e := newTestExtractor(t, repeat(1, 100))
	_, err := e.Run(ctx, Input{
		OpenSource: func() (source.Source, error) { return src, nil },
		OpenSink:   func(source.Info) (recorder.Sink, error) { return sink, nil },
		Progress: func(p Progress) {
			if p.Processed == 20 {
				cancel()
			}
		},
	})

	require.ErrorIs(t, err, context.Canceled)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 20, runErr.Processed)
	assert.True(t, src.Closed(), "source released")
	assert.Equal(t, 1, sink.closed, "sink released")
	assert.Len(t, sink.written, 20)
}

type failingSource struct {
	*source.Frames
	failAt int
	read   int
}

func (f *failingSource) Next(ctx context.Context) (*types.Frame, error) {
	if f.read == f.failAt {
		return nil, errors.New("corrupt packet")
	}
	f.read++
	return f.Frames.Next(ctx)
}

func TestRunErrors(t *testing.T) {
	failAt := uint64(3)

	tests := []struct {
		name          string
		input         func() Input
		detector      func() detect.Detector
		wantProcessed int
		check         func(t *testing.T, err error)
	}{
		{
			name: "source open",
			input: func() Input {
				return Input{OpenSource: func() (source.Source, error) { return nil, errors.New("no such file") }}
			},
			check: func(t *testing.T, err error) {
				var target *SourceOpenError
				assert.ErrorAs(t, err, &target)
			},
		},
		{
			name: "source read",
			input: func() Input {
				return Input{OpenSource: func() (source.Source, error) {
					return &failingSource{Frames: source.FromFrames(makeFrames(10), 25, false), failAt: 4}, nil
				}}
			},
			wantProcessed: 4,
			check: func(t *testing.T, err error) {
				var target *SourceReadError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, 4, target.FrameIndex)
			},
		},
		{
			name: "detection",
			input: func() Input {
				return Input{OpenSource: func() (source.Source, error) { return source.FromFrames(makeFrames(10), 25, false), nil }}
			},
			detector: func() detect.Detector {
				d := detect.NewScripted(1, repeat(1, 10)...)
				d.FailAt = &failAt
				return d
			},
			wantProcessed: 3,
			check: func(t *testing.T, err error) {
				var target *detect.DetectionError
				require.ErrorAs(t, err, &target)
				assert.EqualValues(t, 3, target.FrameIndex)
			},
		},
		{
			name: "sink open",
			input: func() Input {
				return Input{
					OpenSource: func() (source.Source, error) { return source.FromFrames(makeFrames(10), 25, false), nil },
					OpenSink:   func(source.Info) (recorder.Sink, error) { return nil, errors.New("read-only fs") },
				}
			},
			check: func(t *testing.T, err error) {
				var target *SinkWriteError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "open", target.Op)
			},
		},
		{
			name: "sink write",
			input: func() Input {
				return Input{
					OpenSource: func() (source.Source, error) { return source.FromFrames(makeFrames(10), 25, false), nil },
					OpenSink:   func(source.Info) (recorder.Sink, error) { return &memSink{failAt: 2}, nil },
				}
			},
			wantProcessed: 2,
			check: func(t *testing.T, err error) {
				var target *SinkWriteError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "write", target.Op)
				assert.Equal(t, 2, target.FrameIndex)
			},
		},
		{
			name: "sink close",
			input: func() Input {
				return Input{
					OpenSource: func() (source.Source, error) { return source.FromFrames(makeFrames(10), 25, false), nil },
					OpenSink: func(source.Info) (recorder.Sink, error) {
						return &memSink{closeErr: errors.New("flush failed")}, nil
					},
				}
			},
			wantProcessed: 10,
			check: func(t *testing.T, err error) {
				var target *SinkWriteError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "close", target.Op)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d detect.Detector = detect.NewScripted(1, repeat(1, 10)...)
			if tt.detector != nil {
				d = tt.detector()
			}
			e, err := NewExtractor(DefaultConfig(), d, nil)
			require.NoError(t, err)

			res, err := e.Run(context.Background(), tt.input())
			require.Error(t, err)
			assert.Zero(t, res.Count, "no partial result")

			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, tt.wantProcessed, runErr.Processed)
			tt.check(t, err)
		})
	}
}

func TestRunMetrics(t *testing.T) {
	m := metrics.New()
	counts := []int{0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1}
	e, err := NewExtractor(DefaultConfig(), detect.NewScripted(1, counts...), m)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), Input{
		OpenSource: func() (source.Source, error) { return source.FromFrames(makeFrames(len(counts)), 25, false), nil },
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, m.RunsStarted.Load())
	assert.EqualValues(t, 1, m.RunsCompleted.Load())
	assert.EqualValues(t, 0, m.ActiveRuns.Load())
	assert.EqualValues(t, 20, m.FramesProcessed.Load())
	assert.EqualValues(t, 16, m.FramesWithDetections.Load())
	assert.EqualValues(t, 2, m.Captures.Load())
	assert.EqualValues(t, 0, m.EmptyPassages.Load())

	_, err = e.Run(context.Background(), Input{
		OpenSource: func() (source.Source, error) { return nil, errors.New("gone") },
	})
	require.Error(t, err)
	assert.EqualValues(t, 1, m.RunsFailed.Load())
	assert.EqualValues(t, 1, m.SourceErrors.Load())
}

func TestNewExtractorValidates(t *testing.T) {
	_, err := NewExtractor(DefaultConfig(), nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.CaptureDelay = -1
	_, err = NewExtractor(cfg, detect.NewScripted(1), nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.ProgressInterval = 0
	_, err = NewExtractor(cfg, detect.NewScripted(1), nil)
	assert.Error(t, err)

	assert.Equal(t, 6, DefaultConfig().WindowSize())
}

func TestRunZeroDelayLatchesCurrentFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CaptureDelay = 0
	counts := []int{0, 1, 1, 1, 0, 1, 1}
	e, err := NewExtractor(cfg, detect.NewScripted(1, counts...), nil)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), Input{
		OpenSource: func() (source.Source, error) { return source.FromFrames(makeFrames(len(counts)), 25, false), nil },
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 6}, indices(res))
}
