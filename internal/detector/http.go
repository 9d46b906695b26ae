package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	defaultDetectorURL   = "http://localhost:8000"
	defaultDetectorModel = "face-api-128"
)

// HTTPDetector calls a face model server over HTTP.
type HTTPDetector struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPDetector creates a new HTTP detector client
func NewHTTPDetector(baseURL, model string) *HTTPDetector {
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	if model == "" {
		model = defaultDetectorModel
	}
	return &HTTPDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// faceDetection is one face as returned by the model server
type faceDetection struct {
	FaceIndex int          `json:"face_index"`
	Dim       int          `json:"dim"`
	Embedding []float32    `json:"embedding"`
	BBox      []float64    `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64      `json:"det_score"`
	Landmarks [][2]float64 `json:"landmarks,omitempty"`
}

// faceResponse represents the response from the face endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *HTTPDetector) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// Detect detects faces and computes their descriptors
func (c *HTTPDetector) Detect(ctx context.Context, imageData []byte) (*Result, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &Result{
		Width:      faceResp.Width,
		Height:     faceResp.Height,
		Model:      faceResp.Model,
		Detections: make([]Detection, 0, len(faceResp.Faces)),
	}
	if result.Model == "" {
		result.Model = c.model
	}
	if result.Width == 0 || result.Height == 0 {
		if w, h, err := DecodeConfig(imageData); err == nil {
			result.Width, result.Height = w, h
		}
	}

	for _, f := range faceResp.Faces {
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("face %d: malformed bbox %v", f.FaceIndex, f.BBox)
		}
		d := Detection{
			FaceIndex:  f.FaceIndex,
			BBox:       f.BBox,
			Score:      f.DetScore,
			Descriptor: f.Embedding,
		}
		for _, p := range f.Landmarks {
			d.Landmarks = append(d.Landmarks, image.Pt(int(p[0]), int(p[1])))
		}
		result.Detections = append(result.Detections, d)
	}

	return result, nil
}

// Model returns the model name being used
func (c *HTTPDetector) Model() string {
	return c.model
}

// Close is a no-op, the HTTP client holds no model resources.
func (c *HTTPDetector) Close() error {
	return nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	return "application/octet-stream"
}
