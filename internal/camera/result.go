package camera

import (
	"bytes"
	"sync"
	"time"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
	"github.com/kozaktomas/facecam/internal/overlay"
)

// FaceResult is one face found in a frame.
type FaceResult struct {
	BBox  []float64        `json:"bbox"`
	Score float64          `json:"score"`
	Match *facematch.Match `json:"match,omitempty"`
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Camera    string       `json:"camera"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Model     string       `json:"model,omitempty"`
	Faces     []FaceResult `json:"faces"`
	Err       string       `json:"error,omitempty"`
	Annotated []byte       `json:"-"` // JPEG with the overlay drawn
	Raw       []byte       `json:"-"` // frame as captured
	Owner     string       `json:"-"` // user whose descriptors were matched, "" if none

	overlayOpts overlay.Options
}

// Redacted returns the result as seen by someone other than Owner: match
// labels are removed and the overlay is redrawn with scores only.
func (r *FrameResult) Redacted() *FrameResult {
	if r.Owner == "" {
		return r
	}
	out := *r
	out.Owner = ""
	out.Faces = make([]FaceResult, len(r.Faces))
	boxes := make([]overlay.Box, len(r.Faces))
	for i, f := range r.Faces {
		out.Faces[i] = FaceResult{BBox: f.BBox, Score: f.Score}
		boxes[i] = overlay.Box{BBox: f.BBox, Label: overlay.Label(f.Score, nil)}
	}

	opts := r.overlayOpts
	if opts.LineWidth == 0 {
		opts = overlay.DefaultOptions()
	}
	out.Annotated = r.Raw
	if img, _, err := detector.DecodeImage(r.Raw); err == nil {
		var buf bytes.Buffer
		if err := overlay.Encode(&buf, overlay.Draw(img, boxes, opts), "jpeg"); err == nil {
			out.Annotated = buf.Bytes()
		}
	}
	return &out
}

// broadcaster fans frame results out to subscribers without blocking the loop.
type broadcaster struct {
	mu        sync.RWMutex
	listeners []chan *FrameResult
}

func (b *broadcaster) add() chan *FrameResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *FrameResult, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

func (b *broadcaster) remove(ch chan *FrameResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *broadcaster) send(result *FrameResult) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- result:
		default:
			// Listener buffer full, skip.
		}
	}
}
