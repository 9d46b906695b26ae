package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kozaktomas/facecam/internal/camera"
	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
)

const sseHeartbeatInterval = 15 * time.Second

// CameraHandler controls the server-side camera loop
type CameraHandler struct {
	config *config.Config
	loop   *camera.Loop
	// ctx outlives requests; the loop is started with it
	ctx context.Context
}

// NewCameraHandler creates a new camera handler. loop is nil when no camera
// source is configured.
func NewCameraHandler(ctx context.Context, cfg *config.Config, loop *camera.Loop) *CameraHandler {
	return &CameraHandler{config: cfg, loop: loop, ctx: ctx}
}

func (h *CameraHandler) requireLoop(w http.ResponseWriter) bool {
	if h.loop == nil {
		respondError(w, http.StatusServiceUnavailable, "camera is not configured")
		return false
	}
	return true
}

// CameraStatusResponse is the loop status as seen by the caller
type CameraStatusResponse struct {
	camera.Status
	RecognizingForYou bool `json:"recognizing_for_you"`
}

func (h *CameraHandler) status(owner string) CameraStatusResponse {
	st := h.loop.Status()
	return CameraStatusResponse{
		Status:            st,
		RecognizingForYou: st.Recognizing && h.loop.MatchOwner() == owner,
	}
}

// Start handles POST /camera/start
func (h *CameraHandler) Start(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok || !h.requireLoop(w) {
		return
	}

	err := h.loop.Start(h.ctx)
	if errors.Is(err, camera.ErrAlreadyRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed to open camera: "+err.Error())
		return
	}
	log.Printf("Camera %s started by user %s", h.loop.Name(), owner)

	respondJSON(w, http.StatusOK, h.status(owner))
}

// Stop handles POST /camera/stop
func (h *CameraHandler) Stop(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok || !h.requireLoop(w) {
		return
	}

	if err := h.loop.Stop(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	log.Printf("Camera %s stopped by user %s", h.loop.Name(), owner)

	respondJSON(w, http.StatusOK, h.status(owner))
}

// Status handles GET /camera/status
func (h *CameraHandler) Status(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok || !h.requireLoop(w) {
		return
	}
	respondJSON(w, http.StatusOK, h.status(owner))
}

// viewFor hides match labels from everyone but the user whose descriptors
// were matched.
func viewFor(result *camera.FrameResult, owner string) *camera.FrameResult {
	if result.Owner == "" || result.Owner == owner {
		return result
	}
	return result.Redacted()
}

// Frame handles GET /camera/frame: the latest annotated frame as JPEG
func (h *CameraHandler) Frame(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok || !h.requireLoop(w) {
		return
	}

	latest := h.loop.Latest()
	if latest == nil || len(latest.Annotated) == 0 {
		respondError(w, http.StatusNotFound, "no frame processed yet")
		return
	}
	latest = viewFor(latest, owner)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(latest.Annotated)
}

// Events handles GET /camera/events: an SSE stream with a "status" event
// followed by one "frame" event per processed frame.
func (h *CameraHandler) Events(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok || !h.requireLoop(w) {
		return
	}
	flusher, ok := setupSSE(w)
	if !ok {
		return
	}

	ch := h.loop.Subscribe()
	defer h.loop.Unsubscribe(ch)

	sendSSEEvent(w, flusher, "status", h.status(owner))

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "status", h.status(owner))
		case result, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, "frame", viewFor(result, owner))
		}
	}
}

// recognizeRequest toggles recognition
type recognizeRequest struct {
	Enabled bool `json:"enabled"`
}

// Recognize handles POST /camera/recognize {"enabled": bool}. Enabling
// matches every frame against the caller's descriptors; it replaces
// recognition started by another user.
func (h *CameraHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok || !h.requireLoop(w) {
		return
	}

	var req recognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if !req.Enabled {
		if h.loop.MatchOwner() == owner {
			h.loop.SetMatcher("", nil)
		}
		respondJSON(w, http.StatusOK, h.status(owner))
		return
	}

	store, ok := descriptorStore(w, r)
	if !ok {
		return
	}
	if err := h.enableRecognition(r.Context(), store, owner); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.status(owner))
}

func (h *CameraHandler) enableRecognition(ctx context.Context, store database.DescriptorReader, owner string) error {
	model := h.config.Model()
	matcher, err := database.BuildMatcher(ctx, store, owner, h.config.MatchThreshold(), model.Metric)
	if err != nil {
		return err
	}
	h.loop.SetMatcher(owner, matcher)
	log.Printf("Camera %s: recognizing %d labels for user %s", h.loop.Name(), matcher.Len(), owner)
	return nil
}

// RefreshMatcher rebuilds the matcher when owner's descriptors changed
// while recognition runs for owner.
func (h *CameraHandler) RefreshMatcher(ctx context.Context, owner string) {
	if h.loop == nil || h.loop.MatchOwner() != owner {
		return
	}
	store, err := database.GetDescriptorReader(ctx)
	if err != nil {
		return
	}
	if err := h.enableRecognition(ctx, store, owner); err != nil {
		log.Printf("Camera %s: failed to refresh matcher: %v", h.loop.Name(), err)
	}
}
