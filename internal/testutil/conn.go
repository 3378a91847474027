package testutil

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// ErrConnClosed is returned by RecordingConn.Send after Close.
var ErrConnClosed = errors.New("connection closed")

// RecordingConn is an in-memory connection that records every frame sent to
// it. It satisfies session.Conn.
type RecordingConn struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	sendErr error
	changed chan struct{}
}

// NewRecordingConn creates a connection with the given id.
func NewRecordingConn(id string) *RecordingConn {
	return &RecordingConn{id: id, changed: make(chan struct{})}
}

// ID returns the connection id.
func (c *RecordingConn) ID() string {
	return c.id
}

// Send records frame. It fails after Close or when FailSends is set.
func (c *RecordingConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.frames = append(c.frames, cp)
	c.signal()
	return nil
}

// Close marks the connection closed. Closing twice is a no-op.
func (c *RecordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.signal()
	}
	return nil
}

// FailSends makes every later Send return err. Pass nil to recover.
func (c *RecordingConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Closed reports whether Close has been called.
func (c *RecordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns a copy of every recorded frame as a string.
func (c *RecordingConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

// Len returns the number of recorded frames.
func (c *RecordingConn) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// Reset drops all recorded frames.
func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// WaitFrames blocks until at least n frames are recorded and returns them.
// The test fails if that takes longer than timeout.
func (c *RecordingConn) WaitFrames(t testing.TB, n int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		got := len(c.frames)
		changed := c.changed
		c.mu.Unlock()

		if got >= n {
			return c.Frames()
		}
		select {
		case <-changed:
		case <-deadline.C:
			t.Fatalf("conn %s: got %d frames, want %d", c.id, got, n)
			return nil
		}
	}
}

// signal wakes WaitFrames. Caller holds c.mu.
func (c *RecordingConn) signal() {
	close(c.changed)
	c.changed = make(chan struct{})
}
