package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
)

// DescriptorsHandler manages the stored descriptors of the signed-in user
type DescriptorsHandler struct {
	config   *config.Config
	detector detector.Detector
	// onChange is called after the caller's descriptors were modified
	onChange func(ctx context.Context, owner string)
}

// NewDescriptorsHandler creates a new descriptors handler. onChange may be nil.
func NewDescriptorsHandler(cfg *config.Config, det detector.Detector, onChange func(ctx context.Context, owner string)) *DescriptorsHandler {
	return &DescriptorsHandler{config: cfg, detector: det, onChange: onChange}
}

func (h *DescriptorsHandler) changed(ctx context.Context, owner string) {
	if h.onChange != nil {
		h.onChange(ctx, owner)
	}
}

// DescriptorListResponse is the response of List
type DescriptorListResponse struct {
	Count       int                          `json:"count"`
	Labels      []LabelSummary               `json:"labels"`
	Descriptors []database.StoredDescriptor `json:"descriptors"`
}

// LabelSummary counts the descriptors stored under one label
type LabelSummary struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// List handles GET /descriptors. Descriptor values are omitted unless
// ?values=true.
func (h *DescriptorsHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok {
		return
	}
	store, ok := descriptorStore(w, r)
	if !ok {
		return
	}

	descs, err := store.List(r.Context(), owner)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if descs == nil {
		descs = []database.StoredDescriptor{}
	}

	labels := []LabelSummary{}
	for _, g := range database.GroupByLabel(descs) {
		labels = append(labels, LabelSummary{Label: g.Label, Count: len(g.Descriptors)})
	}

	total := len(descs)
	if len(descs) > constants.DefaultListLimit {
		descs = descs[:constants.DefaultListLimit]
	}
	if r.URL.Query().Get("values") != "true" {
		for i := range descs {
			descs[i].Descriptor = nil
		}
	}

	respondJSON(w, http.StatusOK, DescriptorListResponse{
		Count:       total,
		Labels:      labels,
		Descriptors: descs,
	})
}

// Get handles GET /descriptors/{id}
func (h *DescriptorsHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok {
		return
	}
	store, ok := descriptorStore(w, r)
	if !ok {
		return
	}

	d, err := store.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// createDescriptorRequest is the JSON form of Create
type createDescriptorRequest struct {
	Label      string    `json:"label"`
	Descriptor []float32 `json:"descriptor"`
	Model      string    `json:"model"`
}

func validateLabel(label string) (string, error) {
	label = facematch.CleanLabel(label)
	if label == "" {
		return "", errors.New("label is required")
	}
	if len(label) > constants.MaxLabelLength {
		return "", fmt.Errorf("label must be at most %d characters", constants.MaxLabelLength)
	}
	return label, nil
}

// Create handles POST /descriptors. A multipart request with "file" and
// "label" runs the model and stores the descriptor of the single best face;
// a JSON request stores the given descriptor as is.
func (h *DescriptorsHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok {
		return
	}
	store, ok := descriptorStore(w, r)
	if !ok {
		return
	}

	var d database.StoredDescriptor
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if d, ok = h.descriptorFromImage(w, r); !ok {
			return
		}
	} else {
		var req createDescriptorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		d = database.StoredDescriptor{Label: req.Label, Descriptor: req.Descriptor, Model: req.Model}
		if d.Model == "" {
			d.Model = h.config.Model().Name
		}
	}

	label, err := validateLabel(d.Label)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	d.Label = label

	stored, err := store.Insert(r.Context(), owner, d)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	log.Printf("Descriptor %s stored for user %s (label %q)", stored.ID, owner, sanitizeForLog(stored.Label))
	h.changed(r.Context(), owner)

	respondJSON(w, http.StatusCreated, stored)
}

func (h *DescriptorsHandler) descriptorFromImage(w http.ResponseWriter, r *http.Request) (database.StoredDescriptor, bool) {
	data, err := readImageFile(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return database.StoredDescriptor{}, false
	}

	result, err := detector.DetectScaled(r.Context(), h.detector, data, constants.MaxImageSize)
	if err != nil {
		respondError(w, http.StatusBadGateway, "face model error: "+err.Error())
		return database.StoredDescriptor{}, false
	}
	face, err := detector.Single(result)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return database.StoredDescriptor{}, false
	}

	return database.StoredDescriptor{
		Label:      r.FormValue("label"),
		Descriptor: face.Descriptor,
		Model:      result.Model,
		BBox:       face.BBox,
		Score:      face.Score,
	}, true
}

// Delete handles DELETE /descriptors/{id}
func (h *DescriptorsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok {
		return
	}
	store, ok := descriptorStore(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := store.Delete(r.Context(), owner, id); err != nil {
		respondStoreError(w, err)
		return
	}
	h.changed(r.Context(), owner)

	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// DeleteAll handles DELETE /descriptors
func (h *DescriptorsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	owner, ok := sessionOwner(w, r)
	if !ok {
		return
	}
	store, ok := descriptorStore(w, r)
	if !ok {
		return
	}

	n, err := store.DeleteAll(r.Context(), owner)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.changed(r.Context(), owner)

	respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
