//go:build opencv

package detect

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/railvision/wagon-capture/internal/logger"
	"github.com/railvision/wagon-capture/pkg/types"
)

// YOLODetector runs a YOLOv8 ONNX model through the OpenCV DNN module.
// A gocv Net is not safe for concurrent use; wrap it with NewSerialized when
// several runs share it.
type YOLODetector struct {
	cfg YOLOConfig
	net gocv.Net
}

// NewYOLO loads the model from cfg.ModelPath.
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	cfg.withDefaults()

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model %s", cfg.ModelPath)
	}

	if cfg.UseCUDA {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			net.Close()
			return nil, fmt.Errorf("set cuda backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			net.Close()
			return nil, fmt.Errorf("set cuda target: %w", err)
		}
	} else {
		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			return nil, fmt.Errorf("set default backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			return nil, fmt.Errorf("set cpu target: %w", err)
		}
	}

	logger.Info("Detector", "YOLO model loaded from %s (input=%d, cuda=%v)", cfg.ModelPath, cfg.InputSize, cfg.UseCUDA)
	return &YOLODetector{cfg: cfg, net: net}, nil
}

func (d *YOLODetector) Detect(_ context.Context, frame *types.Frame) ([]types.Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("empty frame")
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	size := d.cfg.InputSize
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	// YOLOv8 output is [1, 4+classes, candidates], column-major per candidate.
	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	attrs, candidates := dims[1], dims[2]
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	xScale := float32(frame.Width()) / float32(size)
	yScale := float32(frame.Height()) / float32(size)

	var cands []yoloCandidate
	for i := 0; i < candidates; i++ {
		best, bestScore := -1, float32(0)
		for c := 4; c < attrs; c++ {
			if s := data[c*candidates+i]; s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if best < 0 || float64(bestScore) < d.cfg.MinConfidence {
			continue
		}

		cx, cy := data[i], data[candidates+i]
		w, h := data[2*candidates+i], data[3*candidates+i]
		x1 := (cx - w/2) * xScale
		y1 := (cy - h/2) * yScale
		x2 := (cx + w/2) * xScale
		y2 := (cy + h/2) * yScale

		cands = append(cands, yoloCandidate{
			classID: best,
			score:   bestScore,
			box:     types.BBox{X1: float64(x1), Y1: float64(y1), X2: float64(x2), Y2: float64(y2)},
		})
	}
	if len(cands) == 0 {
		return nil, nil
	}

	return suppressPerClass(cands, func(boxes []image.Rectangle, scores []float32) []int {
		return gocv.NMSBoxes(boxes, scores, float32(d.cfg.MinConfidence), float32(d.cfg.NMSThreshold))
	}), nil
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	return d.net.Close()
}
