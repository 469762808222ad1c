// Package presencetest provides a recording presence.Conn for tests.
package presencetest

import (
	"sync"

	"github.com/lalith-99/talksphere/internal/presence"
)

// Frame is one recorded Send call.
type Frame struct {
	Event   string
	Payload any
}

// Conn records every frame sent to it. Closed connections return
// presence.ErrConnClosed like the real transport.
type Conn struct {
	id string

	mu     sync.Mutex
	frames []Frame
	closed bool
}

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return presence.ErrConnClosed
	}
	c.frames = append(c.frames, Frame{Event: event, Payload: payload})
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Frames returns a copy of what was sent so far.
func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// Count returns how many frames named event were sent.
func (c *Conn) Count(event string) int {
	n := 0
	for _, f := range c.Frames() {
		if f.Event == event {
			n++
		}
	}
	return n
}

var _ presence.Conn = (*Conn)(nil)
