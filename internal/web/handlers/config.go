package handlers

import (
	"net/http"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Model            ModelInfo `json:"model"`
	DetectorBackend  string    `json:"detector_backend"`
	MatchThreshold   float64   `json:"match_threshold"`
	CameraConfigured bool      `json:"camera_configured"`
	CameraName       string    `json:"camera_name,omitempty"`
	Persistence      bool      `json:"persistence"`
	StorageBackend   string    `json:"storage_backend,omitempty"`
	HNSWEnabled      bool      `json:"hnsw_enabled"`
}

// ModelInfo describes the descriptors of the configured model
type ModelInfo struct {
	Name   string `json:"name"`
	Dim    int    `json:"dim"`
	Metric string `json:"metric"`
}

// Get returns the active configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	model := h.config.Model()

	response := ConfigResponse{
		Model: ModelInfo{
			Name:   model.Name,
			Dim:    model.Dim,
			Metric: model.Metric,
		},
		DetectorBackend:  h.config.Detector.Backend,
		MatchThreshold:   h.config.MatchThreshold(),
		CameraConfigured: h.config.Camera.Source != "",
		Persistence:      database.IsInitialized(),
		StorageBackend:   database.BackendName(),
	}
	if response.CameraConfigured {
		response.CameraName = h.config.Camera.Name
	}
	if rebuilder := database.GetHNSWRebuilder(); rebuilder != nil {
		response.HNSWEnabled = rebuilder.IsHNSWEnabled()
	}

	respondJSON(w, http.StatusOK, response)
}
