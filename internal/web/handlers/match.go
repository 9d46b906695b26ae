package handlers

import (
	"net/http"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
	"github.com/kozaktomas/facecam/internal/overlay"
)

// MatchHandler detects faces in an image and matches them against the
// caller's stored descriptors
type MatchHandler struct {
	config   *config.Config
	detector detector.Detector
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(cfg *config.Config, det detector.Detector) *MatchHandler {
	return &MatchHandler{config: cfg, detector: det}
}

// NeighborInfo is a stored descriptor close to a detected face
type NeighborInfo struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// FaceMatch is the match outcome of one detected face
type FaceMatch struct {
	FaceIndex int             `json:"face_index"`
	BBox      []float64       `json:"bbox"`
	Score     float64         `json:"score"`
	Match     facematch.Match `json:"match"`
	Neighbors []NeighborInfo  `json:"neighbors"`
}

// MatchResponse is the response of Match
type MatchResponse struct {
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Model     string      `json:"model"`
	Threshold float64     `json:"threshold"`
	Faces     []FaceMatch `json:"faces"`
}

// matchFromNeighbors turns the nearest stored descriptors into a match.
// The nearest descriptor decides; beyond threshold the face is unknown.
func matchFromNeighbors(neighbors []database.Neighbor, threshold float64) facematch.Match {
	if len(neighbors) == 0 {
		return facematch.Match{Label: facematch.UnknownLabel, Distance: facematch.NoDistance}
	}
	best := neighbors[0]
	m := facematch.Match{
		Label:        facematch.UnknownLabel,
		Distance:     best.Distance,
		DescriptorID: best.Descriptor.ID,
	}
	if best.Distance <= threshold {
		m.Label = best.Descriptor.Label
		m.Known = true
	}
	return m
}

// Match handles POST /match (multipart "file"). ?format=jpeg|png returns
// the annotated image.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok {
		return
	}
	format, err := parseImageFormat(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	store, ok := descriptorStore(w, r)
	if !ok {
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

	threshold := h.config.MatchThreshold()
	resp := MatchResponse{
		Width:     result.Width,
		Height:    result.Height,
		Model:     result.Model,
		Threshold: threshold,
		Faces:     make([]FaceMatch, 0, len(result.Detections)),
	}
	matches := make([]facematch.Match, len(result.Detections))

	for i, det := range result.Detections {
		// Detection-only models return faces without descriptors.
		var neighbors []database.Neighbor
		if len(det.Descriptor) > 0 {
			neighbors, err = store.FindNearest(r.Context(), owner, det.Descriptor, constants.DefaultNearestLimit, 0)
			if err != nil {
				respondStoreError(w, err)
				return
			}
		}
		matches[i] = matchFromNeighbors(neighbors, threshold)

		face := FaceMatch{
			FaceIndex: det.FaceIndex,
			BBox:      det.BBox,
			Score:     det.Score,
			Match:     matches[i],
			Neighbors: make([]NeighborInfo, 0, len(neighbors)),
		}
		for _, n := range neighbors {
			face.Neighbors = append(face.Neighbors, NeighborInfo{
				ID:       n.Descriptor.ID,
				Label:    n.Descriptor.Label,
				Distance: n.Distance,
			})
		}
		resp.Faces = append(resp.Faces, face)
	}

	if format == "json" {
		respondJSON(w, http.StatusOK, resp)
		return
	}
	writeAnnotated(w, data, overlay.BoxesFromResult(result, matches), format)
}
