package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/facematch"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})

	assertContentType(t, recorder, "application/json")
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusNoContent, nil)

	assertStatusCode(t, recorder, http.StatusNoContent)
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "bad input")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "bad input")
}

func TestRespondStoreError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", database.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("get: %w", database.ErrNotFound), http.StatusNotFound},
		{"empty descriptor", database.ErrEmptyDescriptor, http.StatusBadRequest},
		{"dimension mismatch", fmt.Errorf("%w: got 3", facematch.ErrDimensionMismatch), http.StatusBadRequest},
		{"not initialized", database.ErrNotInitialized, http.StatusServiceUnavailable},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondStoreError(recorder, tt.err)
			assertStatusCode(t, recorder, tt.status)
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, httptest.NewRequest("GET", "/api/v1/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}

func TestReadImageFile(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		jpg := testJPEG(t, 16, 16)
		data, err := readImageFile(multipartRequest(t, "POST", "/", jpg, nil))
		if err != nil {
			t.Fatalf("readImageFile failed: %v", err)
		}
		if len(data) != len(jpg) {
			t.Errorf("expected %d bytes, got %d", len(jpg), len(data))
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readImageFile(multipartRequest(t, "POST", "/", nil, map[string]string{"label": "x"}))
		if err == nil || err.Error() != "file is required" {
			t.Errorf("expected 'file is required', got %v", err)
		}
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := readImageFile(multipartRequest(t, "POST", "/", []byte("hello"), nil))
		if err == nil {
			t.Error("expected error for non-image data")
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		_, err := readImageFile(httptest.NewRequest("POST", "/", nil))
		if err == nil || err.Error() != "failed to parse multipart form" {
			t.Errorf("expected multipart error, got %v", err)
		}
	})
}

func TestSessionOwner(t *testing.T) {
	recorder := httptest.NewRecorder()
	if _, ok := sessionOwner(recorder, httptest.NewRequest("GET", "/", nil)); ok {
		t.Error("expected no owner without session")
	}
	assertStatusCode(t, recorder, http.StatusUnauthorized)

	owner, ok := sessionOwner(httptest.NewRecorder(), asUser(httptest.NewRequest("GET", "/", nil), "user-1"))
	if !ok || owner != "user-1" {
		t.Errorf("expected user-1, got %q", owner)
	}
}
