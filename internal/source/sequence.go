package source

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/railvision/wagon-capture/pkg/types"
)

var sequenceExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// Sequence reads a directory of still images as a stream, in file name order.
type Sequence struct {
	dir   string
	files []string
	info  Info
	next  int
}

// OpenSequence lists the images in dir. The directory must contain at least
// one decodable image.
func OpenSequence(dir string, fps float64) (*Sequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sequence dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !sequenceExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(files)

	cfg, err := decodeConfig(filepath.Join(dir, files[0]))
	if err != nil {
		return nil, err
	}

	return &Sequence{
		dir:   dir,
		files: files,
		info: Info{
			Width:       cfg.Width,
			Height:      cfg.Height,
			FPS:         fps,
			TotalFrames: len(files),
		},
	}, nil
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func (s *Sequence) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.files) {
		return nil, io.EOF
	}

	name := s.files[s.next]
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	frame := &types.Frame{
		Index:     uint64(s.next),
		Timestamp: frameTime(s.next, s.info.FPS),
		Image:     img,
	}
	s.next++
	return frame, nil
}

func (s *Sequence) Info() Info { return s.info }

func (s *Sequence) Close() error { return nil }
