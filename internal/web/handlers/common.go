package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
	"github.com/kozaktomas/facecam/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps storage errors to HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "descriptor not found")
	case errors.Is(err, database.ErrEmptyDescriptor), errors.Is(err, facematch.ErrDimensionMismatch):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotInitialized):
		respondError(w, http.StatusServiceUnavailable, "persistence is not configured")
	default:
		log.Printf("Storage error: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// readImageFile reads the multipart "file" field and checks it decodes as
// an image.
func readImageFile(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, errors.New("failed to parse multipart form")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, constants.MaxUploadSize))
	if err != nil {
		return nil, errors.New("failed to read file")
	}
	if _, _, err := detector.DecodeConfig(data); err != nil {
		return nil, fmt.Errorf("unsupported image: %w", err)
	}
	return data, nil
}

// sessionOwner returns the user id of the request session. RequireAuth
// guarantees the session exists on authenticated routes.
func sessionOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil || session.UserID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return session.UserID, true
}

// descriptorStore returns the active descriptor store, or responds 503.
func descriptorStore(w http.ResponseWriter, r *http.Request) (database.DescriptorWriter, bool) {
	store, err := database.GetDescriptorWriter(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	return store, true
}
