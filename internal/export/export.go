// Package export encodes captured frames for storage and transport.
package export

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/railvision/wagon-capture/pkg/types"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 90

// EncodeJPEG encodes the frame's image.
func EncodeJPEG(frame *types.Frame, quality int) ([]byte, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("empty frame")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", frame.Index, err)
	}
	return buf.Bytes(), nil
}

// DataURI wraps JPEG bytes as a data:image/jpeg;base64 URI.
func DataURI(jpegData []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
}

// CaptureName returns the file name of the n-th capture, counting from 1.
func CaptureName(n int) string {
	return fmt.Sprintf("wagon_%03d.jpg", n)
}

// SaveCaptures writes every captured frame to dir as wagon_001.jpg,
// wagon_002.jpg and so on, creating dir if needed. It returns the paths in
// capture order.
func SaveCaptures(dir string, result types.CaptureResult, quality int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	paths := make([]string, 0, len(result.Frames))
	for i, f := range result.Frames {
		data, err := EncodeJPEG(f, quality)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(dir, CaptureName(i+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Thumbnail scales img down to maxWidth, keeping the aspect ratio. Images
// already narrow enough are returned as is.
func Thumbnail(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
