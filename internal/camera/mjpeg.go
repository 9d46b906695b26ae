package camera

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
)

// MJPEGSource reads frames from a multipart/x-mixed-replace stream. The
// stream is opened on the first Next call and bound to that call's context.
type MJPEGSource struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	body   io.ReadCloser
	reader *multipart.Reader
}

// NewMJPEGSource creates a stream source for url.
func NewMJPEGSource(url string) *MJPEGSource {
	return &MJPEGSource{url: url, client: &http.Client{}}
}

func (s *MJPEGSource) open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream error (status %d)", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		return fmt.Errorf("not a multipart stream: %q", resp.Header.Get("Content-Type"))
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		resp.Body.Close()
		return fmt.Errorf("multipart stream without boundary")
	}

	s.body = resp.Body
	s.reader = multipart.NewReader(resp.Body, boundary)
	return nil
}

// Next reads the next part of the stream.
func (s *MJPEGSource) Next(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}

	part, err := s.reader.NextPart()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read stream part: %w", err)
	}
	defer part.Close()

	data, err := readFrameData(part)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return newFrame(data)
}

// Close closes the stream.
func (s *MJPEGSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	s.reader = nil
	return err
}
