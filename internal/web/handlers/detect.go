package handlers

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/overlay"
)

// DetectHandler runs the face model on uploaded images
type DetectHandler struct {
	detector detector.Detector
}

// NewDetectHandler creates a new detect handler
func NewDetectHandler(det detector.Detector) *DetectHandler {
	return &DetectHandler{detector: det}
}

// DetectResponse is the JSON output of Detect
type DetectResponse struct {
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Model      string               `json:"model"`
	FacesCount int                  `json:"faces_count"`
	Detections []detector.Detection `json:"detections"`
}

func parseImageFormat(r *http.Request) (string, error) {
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		return "json", nil
	case "jpeg", "jpg":
		return "jpeg", nil
	case "png":
		return "png", nil
	default:
		return "", errors.New("format must be json, jpeg or png")
	}
}

// Detect handles POST /detect. ?format=jpeg|png returns the image with the
// overlay drawn instead of JSON.
func (h *DetectHandler) Detect(w http.ResponseWriter, r *http.Request) {
	format, err := parseImageFormat(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := readImageFile(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := detector.DetectScaled(r.Context(), h.detector, data, constants.MaxImageSize)
	if err != nil {
		respondError(w, http.StatusBadGateway, "face model error: "+err.Error())
		return
	}

	if format == "json" {
		respondJSON(w, http.StatusOK, newDetectResponse(result))
		return
	}

	writeAnnotated(w, data, overlay.BoxesFromResult(result, nil), format)
}

func newDetectResponse(result *detector.Result) DetectResponse {
	detections := result.Detections
	if detections == nil {
		detections = []detector.Detection{}
	}
	return DetectResponse{
		Width:      result.Width,
		Height:     result.Height,
		Model:      result.Model,
		FacesCount: len(detections),
		Detections: detections,
	}
}

// writeAnnotated draws boxes on the image and writes it in format.
func writeAnnotated(w http.ResponseWriter, data []byte, boxes []overlay.Box, format string) {
	img, _, err := detector.DecodeImage(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := overlay.Encode(&buf, overlay.Draw(img, boxes, overlay.DefaultOptions()), format); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", overlay.ContentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
