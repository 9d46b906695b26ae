package camera

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/facematch"
	"github.com/kozaktomas/facecam/internal/fingerprint"
	"github.com/kozaktomas/facecam/internal/overlay"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("camera already running")
	// ErrNotRunning is returned by Stop when the loop is idle.
	ErrNotRunning = errors.New("camera not running")
)

// Opener acquires the frame source. It is called on every Start.
type Opener func() (Source, error)

// Sink receives every frame result, without image bytes.
type Sink interface {
	Publish(result *FrameResult) error
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	Name     string
	Interval time.Duration
	Detector detector.Detector
	Open     Opener
	Sink     Sink // optional
	Overlay  overlay.Options
	// SkipUnchanged skips frames whose difference hash is within this many
	// bits of the last processed frame. 0 processes every frame.
	SkipUnchanged int
}

// Status is a snapshot of the loop state.
type Status struct {
	Running         bool       `json:"running"`
	Camera          string     `json:"camera"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FramesCaptured  uint64     `json:"frames_captured"`
	FramesProcessed uint64     `json:"frames_processed"`
	FramesDropped   uint64     `json:"frames_dropped"`
	FramesSkipped   uint64     `json:"frames_skipped"`
	LastError       string     `json:"last_error,omitempty"`
	Recognizing     bool       `json:"recognizing"`
}

// Loop captures frames, runs the detector on the newest one and publishes
// annotated results.
type Loop struct {
	cfg LoopConfig

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	box       *mailbox
	startedAt time.Time
	lastErr   string
	latest    *FrameResult
	owner     string
	matcher   *facematch.Matcher

	captured  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	skipped   atomic.Uint64

	// owned by processLoop
	lastHash fingerprint.Hash
	haveHash bool

	events broadcaster
}

// NewLoop creates an idle loop.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Overlay.LineWidth == 0 {
		cfg.Overlay = overlay.DefaultOptions()
	}
	return &Loop{cfg: cfg}
}

// Name returns the camera name.
func (l *Loop) Name() string {
	return l.cfg.Name
}

// Start opens the source and starts capture and processing. The loop runs
// until Stop, ctx cancellation or the end of the source.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyRunning
	}
	if l.cfg.Open == nil || l.cfg.Detector == nil {
		return errors.New("camera loop not configured")
	}

	src, err := l.cfg.Open()
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.box = newMailbox()
	l.running = true
	l.startedAt = time.Now()
	l.lastErr = ""
	l.latest = nil
	l.captured.Store(0)
	l.processed.Store(0)
	l.dropped.Store(0)
	l.skipped.Store(0)
	l.haveHash = false

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.captureLoop(loopCtx, src, l.box)
	}()
	go func() {
		defer wg.Done()
		l.processLoop(loopCtx, l.box)
	}()

	done := l.done
	go func() {
		wg.Wait()
		cancel()
		if err := src.Close(); err != nil {
			log.Printf("camera %s: failed to close source: %v", l.cfg.Name, err)
		}
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(done)
		log.Printf("camera %s: stopped after %d frames", l.cfg.Name, l.processed.Load())
	}()

	log.Printf("camera %s: started (interval %s)", l.cfg.Name, l.cfg.Interval)
	return nil
}

// Stop cancels the loop and waits for it to finish.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return ErrNotRunning
	}
	cancel, box, done := l.cancel, l.box, l.done
	l.mu.Unlock()

	cancel()
	box.discard()
	box.close()
	<-done
	return nil
}

// Wait blocks until the current run ends. It returns immediately when idle.
func (l *Loop) Wait() {
	l.mu.RLock()
	done := l.done
	l.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Status returns counters and state.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Status{
		Running:         l.running,
		Camera:          l.cfg.Name,
		FramesCaptured:  l.captured.Load(),
		FramesProcessed: l.processed.Load(),
		FramesDropped:   l.dropped.Load(),
		FramesSkipped:   l.skipped.Load(),
		LastError:       l.lastErr,
		Recognizing:     l.matcher != nil,
	}
	if !l.startedAt.IsZero() {
		started := l.startedAt
		s.StartedAt = &started
	}
	return s
}

// Latest returns the most recently processed frame, or nil.
func (l *Loop) Latest() *FrameResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// Subscribe returns a channel receiving every frame result. Slow
// subscribers miss results rather than stall the loop.
func (l *Loop) Subscribe() chan *FrameResult {
	return l.events.add()
}

// Unsubscribe removes and closes a subscription channel.
func (l *Loop) Unsubscribe(ch chan *FrameResult) {
	l.events.remove(ch)
}

// SetMatcher enables recognition against matcher for owner. A nil matcher
// turns recognition off.
func (l *Loop) SetMatcher(owner string, matcher *facematch.Matcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if matcher == nil {
		owner = ""
	}
	l.owner = owner
	l.matcher = matcher
}

// MatchOwner returns the owner whose descriptors are matched, or "".
func (l *Loop) MatchOwner() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

func (l *Loop) setError(msg string) {
	l.mu.Lock()
	l.lastErr = msg
	l.mu.Unlock()
}

func (l *Loop) captureLoop(ctx context.Context, src Source, box *mailbox) {
	defer box.close()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	var seq uint64
	failures := 0
	for {
		frame, err := src.Next(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			log.Printf("camera %s: source exhausted", l.cfg.Name)
			return
		case err != nil:
			failures++
			l.setError(err.Error())
			log.Printf("camera %s: capture failed: %v", l.cfg.Name, err)
			if failures >= constants.MaxConsecutiveSourceErrors {
				log.Printf("camera %s: giving up after %d capture errors", l.cfg.Name, failures)
				return
			}
		default:
			failures = 0
			seq++
			frame.Seq = seq
			l.captured.Add(1)
			if box.put(frame) {
				l.dropped.Add(1)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Loop) processLoop(ctx context.Context, box *mailbox) {
	for {
		frame, ok := box.take()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if l.unchanged(frame) {
			l.skipped.Add(1)
			continue
		}

		result, ok := l.process(ctx, frame)
		if !ok {
			continue
		}
		l.processed.Add(1)

		l.mu.Lock()
		l.latest = result
		l.mu.Unlock()

		l.events.send(result)

		if l.cfg.Sink != nil {
			if err := l.cfg.Sink.Publish(result); err != nil {
				log.Printf("camera %s: sink publish failed: %v", l.cfg.Name, err)
			}
		}
	}
}

// unchanged reports whether frame looks like the last processed frame.
// Frames that cannot be hashed are always processed.
func (l *Loop) unchanged(frame *Frame) bool {
	if l.cfg.SkipUnchanged <= 0 {
		return false
	}
	hash, err := fingerprint.FromBytes(frame.Data)
	if err != nil {
		return false
	}
	if l.haveHash && fingerprint.Similar(hash, l.lastHash, l.cfg.SkipUnchanged) {
		return true
	}
	l.lastHash = hash
	l.haveHash = true
	return false
}

// process runs the detector and optional matcher on one frame and draws the
// overlay. Detector failures are reported in the result, not returned. It
// returns false when ctx was cancelled during detection; such frames are
// dropped.
func (l *Loop) process(ctx context.Context, frame *Frame) (*FrameResult, bool) {
	result := &FrameResult{
		Camera:      l.cfg.Name,
		Seq:         frame.Seq,
		Timestamp:   frame.Timestamp,
		Width:       frame.Width,
		Height:      frame.Height,
		Model:       l.cfg.Detector.Model(),
		Faces:       []FaceResult{},
		Annotated:   frame.Data,
		Raw:         frame.Data,
		overlayOpts: l.cfg.Overlay,
	}

	det, err := detector.DetectScaled(ctx, l.cfg.Detector, frame.Data, constants.MaxImageSize)
	if ctx.Err() != nil {
		return nil, false
	}
	if err != nil {
		result.Err = err.Error()
		l.setError(result.Err)
		return result, true
	}
	if det.Model != "" {
		result.Model = det.Model
	}

	l.mu.RLock()
	matcher, owner := l.matcher, l.owner
	l.mu.RUnlock()
	result.Owner = owner

	for _, d := range det.Detections {
		face := FaceResult{BBox: d.BBox, Score: d.Score}
		if matcher != nil {
			m := matcher.FindBestMatch(d.Descriptor)
			face.Match = &m
		}
		result.Faces = append(result.Faces, face)
	}

	img, _, err := detector.DecodeImage(frame.Data)
	if err != nil {
		result.Err = err.Error()
		return result, true
	}
	boxes := make([]overlay.Box, len(result.Faces))
	for i, f := range result.Faces {
		boxes[i] = overlay.Box{BBox: f.BBox, Label: overlay.Label(f.Score, f.Match)}
		if f.Match != nil {
			boxes[i].Known = f.Match.Known
		}
	}

	var buf bytes.Buffer
	if err := overlay.Encode(&buf, overlay.Draw(img, boxes, l.cfg.Overlay), "jpeg"); err != nil {
		result.Err = err.Error()
		return result, true
	}
	result.Annotated = buf.Bytes()
	return result, true
}
