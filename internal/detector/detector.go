// Package detector talks to the pretrained face model. The model is a black
// box: it receives an encoded frame and returns boxes, scores and descriptors.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/facecam/internal/config"
)

// ErrNoFace is returned when a single face is required but the model found none.
var ErrNoFace = errors.New("no face detected")

// Detection represents a single detected face
type Detection struct {
	FaceIndex  int           `json:"face_index"`
	BBox       []float64     `json:"bbox"` // [x1, y1, x2, y2] in frame pixels
	Score      float64       `json:"score"`
	Descriptor []float32     `json:"descriptor,omitempty"`
	Landmarks  []image.Point `json:"landmarks,omitempty"`
}

// Result is the model output for one frame.
type Result struct {
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Model      string      `json:"model"`
	Detections []Detection `json:"detections"`
}

// Descriptors returns the descriptors of all detections, in detection order.
func (r *Result) Descriptors() [][]float32 {
	out := make([][]float32, len(r.Detections))
	for i := range r.Detections {
		out[i] = r.Detections[i].Descriptor
	}
	return out
}

// Detector runs the face model on an encoded image (JPEG, PNG or BMP).
type Detector interface {
	Detect(ctx context.Context, imageData []byte) (*Result, error)
	Model() string
	Close() error
}

// New creates the detector selected by DETECTOR_BACKEND.
func New(cfg *config.Config) (Detector, error) {
	switch cfg.Detector.Backend {
	case "", "http":
		return NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Model), nil
	case "dlib":
		return NewDlibDetector(cfg.Detector.ModelsDir)
	case "static":
		return &Static{}, nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Detector.Backend)
	}
}

// Single returns the detection with the highest score.
func Single(result *Result) (Detection, error) {
	if result == nil || len(result.Detections) == 0 {
		return Detection{}, ErrNoFace
	}
	best := result.Detections[0]
	for _, d := range result.Detections[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best, nil
}
