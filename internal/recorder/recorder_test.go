package recorder

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railvision/wagon-capture/internal/source"
	"github.com/railvision/wagon-capture/pkg/types"
)

func frame(i uint64) *types.Frame {
	return &types.Frame{Index: i, Image: image.NewRGBA(image.Rect(0, 0, 64, 48))}
}

func TestMJPEGWritesEveryFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mjpeg")
	rec, err := NewMJPEG(path, 80)
	require.NoError(t, err)

	for i := range uint64(5) {
		require.NoError(t, rec.WriteFrame(frame(i)))
	}
	st := rec.GetStatus()
	assert.True(t, st.Recording)
	assert.Equal(t, "out.mjpeg", st.Filename)
	assert.EqualValues(t, 5, st.FrameCount)

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close(), "second close is a no-op")
	assert.False(t, rec.GetStatus().Recording)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.EqualValues(t, st.BytesWritten, len(data))
	assert.Equal(t, 5, bytes.Count(data, []byte{0xFF, 0xD8, 0xFF}), "one SOI marker per frame")

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestMJPEGRejectsWritesAfterClose(t *testing.T) {
	rec, err := NewMJPEG(filepath.Join(t.TempDir(), "x.mjpg"), 0)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	assert.Error(t, rec.WriteFrame(frame(0)))
}

func TestMJPEGCreateFailure(t *testing.T) {
	_, err := NewMJPEG(filepath.Join(t.TempDir(), "missing", "out.mjpeg"), 90)
	assert.Error(t, err)
}

func TestOpenPicksWriterByExtension(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(filepath.Join(dir, "a.MJPEG"), source.Info{Width: 64, Height: 48, FPS: 25}, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MJPEG{}, s)
	require.NoError(t, s.Close())

	s, err = Open(filepath.Join(dir, "b.mjpeg"), source.Info{}, Options{Annotate: true})
	require.NoError(t, err)
	assert.IsType(t, &Annotated{}, s)
	require.NoError(t, s.Close())

	_, err = Open(filepath.Join(dir, "noext"), source.Info{}, Options{})
	assert.Error(t, err)
}

type memSink struct {
	frames []*types.Frame
	closed bool
}

func (m *memSink) WriteFrame(f *types.Frame) error {
	m.frames = append(m.frames, f)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestWriteUsesRecordWriter(t *testing.T) {
	inner := &memSink{}
	a := &Annotated{Sink: inner}
	f := frame(3)
	dets := []types.Detection{{ClassID: 1, Confidence: 0.9, Box: types.BBox{X1: 4, Y1: 20, X2: 40, Y2: 44}}}

	require.NoError(t, Write(a, types.FrameRecord{Frame: f, Detections: dets}))
	require.NoError(t, Write(a, types.FrameRecord{Frame: frame(4)}))
	require.Len(t, inner.frames, 2)

	drawn := inner.frames[0]
	assert.NotSame(t, f, drawn, "annotated frames are copies")
	assert.EqualValues(t, 3, drawn.Index)
	assert.Zero(t, f.Image.(*image.RGBA).Pix[0], "input frame untouched")

	plain := &memSink{}
	require.NoError(t, Write(plain, types.FrameRecord{Frame: f, Detections: dets}))
	assert.Same(t, f, plain.frames[0])

	require.NoError(t, a.Close())
	assert.True(t, inner.closed)
}

func TestStatusOfLooksThroughAnnotation(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "c.mjpeg"), source.Info{}, Options{Annotate: true})
	require.NoError(t, err)
	for i := range uint64(3) {
		require.NoError(t, Write(s, types.FrameRecord{Frame: frame(i)}))
	}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Close())

	st, ok := StatusOf(s)
	require.True(t, ok)
	assert.False(t, st.Recording)
	assert.EqualValues(t, 3, st.FrameCount)
	assert.Positive(t, st.BytesWritten)
	assert.GreaterOrEqual(t, st.DurationMs, int64(5), "duration survives close, in milliseconds")
	assert.Less(t, st.DurationMs, int64(60_000))

	_, ok = StatusOf(&memSink{})
	assert.False(t, ok)
}
