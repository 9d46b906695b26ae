package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database/mock"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/web/middleware"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Detector: config.DetectorConfig{Backend: "static", Model: "test-model"},
		Match:    config.MatchConfig{Threshold: 0.6},
		Camera:   config.CameraConfig{Name: "test-cam"},
	}
}

// setupStores registers fresh mock stores for the duration of the test
func setupStores(t *testing.T) (*mock.MockDescriptorStore, *mock.MockUserStore) {
	t.Helper()
	descriptors := mock.NewMockDescriptorStore(0)
	users := mock.NewMockUserStore()
	t.Cleanup(mock.Register(descriptors, users))
	return descriptors, users
}

// newSessionManager creates a session manager stopped at test cleanup
func newSessionManager(t *testing.T) *middleware.SessionManager {
	t.Helper()
	sm := middleware.NewSessionManager("test-secret", nil)
	t.Cleanup(sm.Stop)
	return sm
}

// asUser puts a session for userID in the request context, as RequireAuth does
func asUser(r *http.Request, userID string) *http.Request {
	session := &middleware.Session{
		ID:        "session-" + userID,
		UserID:    userID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return r.WithContext(middleware.SetSessionInContext(r.Context(), session))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// testJPEG encodes a uniformly colored JPEG
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{90, 110, 130, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode JPEG: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest creates a multipart request with an optional "file" part
// and plain form fields
func multipartRequest(t *testing.T, method, path string, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if file != nil {
		part, err := writer.CreateFormFile("file", "frame.jpg")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		_, _ = part.Write(file)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// oneFace is a static detector reporting a single face with descriptor
func oneFace(descriptor ...float32) *detector.Static {
	return &detector.Static{Result: &detector.Result{
		Model: "test-model",
		Detections: []detector.Detection{
			{BBox: []float64{4, 4, 20, 20}, Score: 0.95, Descriptor: descriptor},
		},
	}}
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
