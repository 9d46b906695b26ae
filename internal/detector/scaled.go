package detector

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facecam/internal/facematch"
)

// DetectScaled downsizes data to at most maxSize pixels on its longer side,
// runs d on it and maps the boxes back to the original image size. Width
// and Height of the returned result are those of the original image.
func DetectScaled(ctx context.Context, d Detector, data []byte, maxSize int) (*Result, error) {
	width, height, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}

	input := data
	if width > maxSize || height > maxSize {
		if input, _, err = ResizeImage(data, maxSize); err != nil {
			return nil, fmt.Errorf("resize image: %w", err)
		}
	}

	result, err := d.Detect(ctx, input)
	if err != nil {
		return nil, err
	}

	if result.Width > 0 && result.Height > 0 && (result.Width != width || result.Height != height) {
		for i := range result.Detections {
			result.Detections[i].BBox = facematch.ScaleBBox(result.Detections[i].BBox, result.Width, result.Height, width, height)
		}
	}
	result.Width, result.Height = width, height
	return result, nil
}
