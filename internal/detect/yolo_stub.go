//go:build !opencv

package detect

import (
	"context"
	"fmt"

	"github.com/railvision/wagon-capture/pkg/types"
)

// YOLODetector is unavailable in builds without the opencv tag.
type YOLODetector struct{}

// NewYOLO reports that in-process inference needs the opencv build tag.
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	return nil, fmt.Errorf("yolo detector for %q requires a build with -tags opencv", cfg.ModelPath)
}

func (d *YOLODetector) Detect(context.Context, *types.Frame) ([]types.Detection, error) {
	return nil, fmt.Errorf("yolo detector not available")
}

func (d *YOLODetector) Close() error { return nil }
