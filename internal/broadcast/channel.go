// Package broadcast fans session events out to connected participants.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

var ErrClosed = errors.New("channel closed")

// Frame is one encoded envelope ready for the wire.
type Frame struct {
	Type     protocol.Kind
	Revision uint64
	Data     []byte
}

// Channel is a bounded outbound queue for one connection. When it is full
// the oldest frame is dropped; the client sees a revision gap and resyncs.
type Channel struct {
	ParticipantID string
	Role          protocol.Role

	mu       sync.Mutex
	queue    []Frame
	capacity int

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
	acked   atomic.Uint64
}

func NewChannel(participantID string, role protocol.Role, capacity int) *Channel {
	if capacity <= 0 {
		capacity = 256
	}
	return &Channel{
		ParticipantID: participantID,
		Role:          role,
		capacity:      capacity,
		notify:        make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Push queues a frame without blocking. It reports whether an older frame
// was dropped to make room.
func (c *Channel) Push(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	c.mu.Lock()
	dropped := false
	if len(c.queue) >= c.capacity {
		c.queue = c.queue[1:]
		dropped = true
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()

	if dropped {
		c.dropped.Add(1)
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Next blocks until a frame is queued, ctx ends or the channel is closed.
func (c *Channel) Next(ctx context.Context) (Frame, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			f := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
			return Frame{}, ErrClosed
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Len is the number of queued frames.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Channel) Done() <-chan struct{} { return c.done }

// Ack records the highest revision the client reported applying.
func (c *Channel) Ack(revision uint64) {
	for {
		cur := c.acked.Load()
		if revision <= cur || c.acked.CompareAndSwap(cur, revision) {
			return
		}
	}
}

func (c *Channel) LastAcked() uint64 { return c.acked.Load() }
func (c *Channel) Dropped() uint64   { return c.dropped.Load() }
