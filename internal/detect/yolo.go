package detect

import (
	"image"
	"sort"

	"github.com/railvision/wagon-capture/pkg/types"
)

// YOLOConfig configures the in-process YOLO detector.
type YOLOConfig struct {
	ModelPath     string  // ONNX export of a YOLOv8 detection model
	InputSize     int     // square network input, typically 640
	MinConfidence float64 // boxes below this score are dropped before NMS
	NMSThreshold  float64
	UseCUDA       bool
}

func (c *YOLOConfig) withDefaults() {
	if c.InputSize <= 0 {
		c.InputSize = 640
	}
	if c.NMSThreshold <= 0 {
		c.NMSThreshold = 0.45
	}
}

type yoloCandidate struct {
	classID int
	score   float32
	box     types.BBox
}

// suppressPerClass runs nms separately for each class so that overlapping
// boxes of different classes never suppress each other. nms returns the
// indices to keep. Output is ordered by class id.
func suppressPerClass(cands []yoloCandidate, nms func([]image.Rectangle, []float32) []int) []types.Detection {
	byClass := make(map[int][]yoloCandidate)
	for _, c := range cands {
		byClass[c.classID] = append(byClass[c.classID], c)
	}
	classIDs := make([]int, 0, len(byClass))
	for id := range byClass {
		classIDs = append(classIDs, id)
	}
	sort.Ints(classIDs)

	dets := make([]types.Detection, 0, len(cands))
	for _, id := range classIDs {
		group := byClass[id]
		boxes := make([]image.Rectangle, len(group))
		scores := make([]float32, len(group))
		for i, c := range group {
			boxes[i] = image.Rect(int(c.box.X1), int(c.box.Y1), int(c.box.X2), int(c.box.Y2))
			scores[i] = c.score
		}
		for _, idx := range nms(boxes, scores) {
			dets = append(dets, types.Detection{
				ClassID:    id,
				Confidence: float64(group[idx].score),
				Box:        group[idx].box,
			})
		}
	}
	return dets
}
