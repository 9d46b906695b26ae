package camera

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPSnapshotSource fetches a still image from a URL for every frame.
// Most IP cameras expose such an endpoint.
type HTTPSnapshotSource struct {
	url    string
	client *http.Client
}

// NewHTTPSnapshotSource creates a snapshot source for url.
func NewHTTPSnapshotSource(url string) *HTTPSnapshotSource {
	return &HTTPSnapshotSource{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Next performs one GET and returns the body as a frame.
func (s *HTTPSnapshotSource) Next(ctx context.Context) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot error (status %d)", resp.StatusCode)
	}

	data, err := readFrameData(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return newFrame(data)
}

// Close releases idle connections.
func (s *HTTPSnapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
