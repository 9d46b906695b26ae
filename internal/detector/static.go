package detector

import (
	"context"
	"sync"
)

// Static is a Detector that returns a fixed result. It backs offline demos
// (DETECTOR_BACKEND=static) and tests.
type Static struct {
	Result *Result
	Err    error

	mu    sync.Mutex
	calls int
}

// Detect returns a copy of the configured result, sized to the frame when possible.
func (s *Static) Detect(ctx context.Context, imageData []byte) (*Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	out := &Result{Model: "static"}
	if s.Result != nil {
		*out = *s.Result
		out.Detections = append([]Detection(nil), s.Result.Detections...)
	}
	if out.Width == 0 || out.Height == 0 {
		if w, h, err := DecodeConfig(imageData); err == nil {
			out.Width, out.Height = w, h
		}
	}
	return out, nil
}

// Calls returns how many times Detect ran.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Model returns "static".
func (s *Static) Model() string {
	return "static"
}

// Close is a no-op.
func (s *Static) Close() error {
	return nil
}
