package source

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railvision/wagon-capture/pkg/types"
)

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestSequenceReadsInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame_002.png"), 20)
	writePNG(t, filepath.Join(dir, "frame_000.png"), 0)
	writePNG(t, filepath.Join(dir, "frame_001.png"), 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	src, err := Open(dir, Options{SequenceFPS: 10})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, Info{Width: 16, Height: 8, FPS: 10, TotalFrames: 3}, src.Info())

	ctx := context.Background()
	for i := range 3 {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, i, f.Index)
		assert.Equal(t, time.Duration(i)*100*time.Millisecond, f.Timestamp)
		assert.Equal(t, color.Gray{Y: uint8(i * 10)}, f.Image.At(0, 0))
	}
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSequenceEmptyDir(t *testing.T) {
	_, err := OpenSequence(t.TempDir(), 25)
	assert.Error(t, err)
}

func TestSequenceCorruptImage(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("not a png"), 0o644))

	src, err := OpenSequence(dir, 25)
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.Error(t, err)
}

func TestOpenMissingPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.mp4"), DefaultOptions())
	assert.Error(t, err)
}

func TestFramesSource(t *testing.T) {
	frames := []*types.Frame{
		{Index: 0, Image: image.NewRGBA(image.Rect(0, 0, 4, 2))},
		{Index: 1, Image: image.NewRGBA(image.Rect(0, 0, 4, 2))},
	}
	src := FromFrames(frames, 25, true)
	assert.Equal(t, Info{Width: 4, Height: 2, FPS: 25}, src.Info())

	ctx, cancel := context.WithCancel(context.Background())
	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Same(t, frames[0], f)

	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	assert.True(t, src.Closed())
}
