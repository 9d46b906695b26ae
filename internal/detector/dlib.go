//go:build dlib

package detector

import (
	"context"
	"fmt"
	"sync"

	face "github.com/Kagami/go-face"
)

const dlibModelName = "dlib-resnet-128"

// DlibDetector runs dlib's face models in-process through go-face.
type DlibDetector struct {
	rec *face.Recognizer
	mu  sync.Mutex // go-face recognizers are not safe for concurrent use
}

// NewDlibDetector loads the dlib model files from modelsDir.
func NewDlibDetector(modelsDir string) (Detector, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("init dlib recognizer: %w", err)
	}
	return &DlibDetector{rec: rec}, nil
}

// Detect runs detection and descriptor extraction. go-face only reads JPEG,
// so other formats are re-encoded first.
func (d *DlibDetector) Detect(ctx context.Context, imageData []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if detectMIMEType(imageData) != "image/jpeg" {
		jpg, _, err := ResizeImage(imageData, 1<<16)
		if err != nil {
			return nil, err
		}
		imageData = jpg
	}

	width, height, err := DecodeConfig(imageData)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	faces, err := d.rec.Recognize(imageData)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}

	result := &Result{
		Width:      width,
		Height:     height,
		Model:      dlibModelName,
		Detections: make([]Detection, 0, len(faces)),
	}
	for i, f := range faces {
		r := f.Rectangle
		desc := make([]float32, len(f.Descriptor))
		copy(desc, f.Descriptor[:])
		result.Detections = append(result.Detections, Detection{
			FaceIndex:  i,
			BBox:       []float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)},
			Score:      1, // dlib's CNN detector does not expose a confidence through go-face
			Descriptor: desc,
			Landmarks:  f.Shapes,
		})
	}
	return result, nil
}

// Model returns the model name being used
func (d *DlibDetector) Model() string {
	return dlibModelName
}

// Close releases the native recognizer.
func (d *DlibDetector) Close() error {
	d.rec.Close()
	return nil
}
