package camera

import "sync"

// mailbox is a single-slot buffer between capture and processing. A new
// frame replaces an unconsumed one, so the processor always sees the most
// recent frame and slow detection never builds a backlog.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores frame and reports whether an unconsumed frame was dropped.
func (m *mailbox) put(frame *Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	dropped := m.frame != nil
	m.frame = frame
	m.cond.Signal()
	return dropped
}

// take blocks until a frame is available. After close it still hands out a
// pending frame once, then returns false.
func (m *mailbox) take() (*Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil {
		if m.closed {
			return nil, false
		}
		m.cond.Wait()
	}
	frame := m.frame
	m.frame = nil
	return frame, true
}

// close wakes the consumer. Further puts are ignored.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// discard drops a pending frame, used on cancellation.
func (m *mailbox) discard() {
	m.mu.Lock()
	m.frame = nil
	m.mu.Unlock()
}
