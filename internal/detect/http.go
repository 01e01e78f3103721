package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/railvision/wagon-capture/pkg/types"
)

// HTTPConfig configures a remote inference endpoint.
type HTTPConfig struct {
	Endpoint      string        // e.g. http://localhost:8500/predict
	Timeout       time.Duration // per-request timeout
	MinConfidence float64       // forwarded as the conf query parameter
	JPEGQuality   int
}

// HTTPDetector posts each frame as a JPEG to an inference server and decodes
// the JSON response.
//
// Request:  POST {endpoint}?conf=0.6 with Content-Type image/jpeg
// Response: {"detections":[{"class_id":1,"confidence":0.91,"bbox":[x1,y1,x2,y2]}]}
type HTTPDetector struct {
	cfg    HTTPConfig
	client *http.Client
}

type wireDetection struct {
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
	Error      string          `json:"error,omitempty"`
}

// NewHTTPDetector returns a detector for the given endpoint.
func NewHTTPDetector(cfg HTTPConfig) (*HTTPDetector, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("detector endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid detector endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	return &HTTPDetector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (d *HTTPDetector) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("empty frame")
	}

	var body bytes.Buffer
	if err := jpeg.Encode(&body, frame.Image, &jpeg.Options{Quality: d.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	u, _ := url.Parse(d.cfg.Endpoint)
	q := u.Query()
	q.Set("conf", strconv.FormatFloat(d.cfg.MinConfidence, 'f', -1, 64))
	q.Set("frame", strconv.FormatUint(frame.Index, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var payload wireResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("inference server returned %s", resp.Status)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if payload.Error != "" {
			return nil, fmt.Errorf("inference server returned %s: %s", resp.Status, payload.Error)
		}
		return nil, fmt.Errorf("inference server returned %s", resp.Status)
	}

	dets := make([]types.Detection, len(payload.Detections))
	for i, w := range payload.Detections {
		dets[i] = types.Detection{
			ClassID:    w.ClassID,
			Confidence: w.Confidence,
			Box:        types.BBox{X1: w.BBox[0], Y1: w.BBox[1], X2: w.BBox[2], Y2: w.BBox[3]},
		}
	}
	return dets, nil
}
