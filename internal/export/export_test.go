package export

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railvision/wagon-capture/pkg/types"
)

func testFrame(i uint64, w, h int) *types.Frame {
	return &types.Frame{Index: i, Image: image.NewRGBA(image.Rect(0, 0, w, h))}
}

func TestEncodeJPEGAndDataURI(t *testing.T) {
	data, err := EncodeJPEG(testFrame(0, 32, 16), 0)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())

	uri := DataURI(data)
	require.True(t, strings.HasPrefix(uri, "data:image/jpeg;base64,"))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	_, err = EncodeJPEG(&types.Frame{}, 90)
	assert.Error(t, err)
}

func TestSaveCaptures(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures")
	res := types.CaptureResult{Frames: []*types.Frame{testFrame(4, 8, 8), testFrame(14, 8, 8)}, Count: 2}

	paths, err := SaveCaptures(dir, res, 85)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "wagon_001.jpg"),
		filepath.Join(dir, "wagon_002.jpg"),
	}, paths)
	for _, p := range paths {
		st, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, st.Size())
	}
}

func TestSaveCapturesEmptyResult(t *testing.T) {
	paths, err := SaveCaptures(t.TempDir(), types.CaptureResult{}, 90)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestThumbnail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	thumb := Thumbnail(img, 160)
	assert.Equal(t, image.Rect(0, 0, 160, 120), thumb.Bounds())

	small := image.NewRGBA(image.Rect(0, 0, 100, 50))
	assert.Same(t, small, Thumbnail(small, 160))
}
