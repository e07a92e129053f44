package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

// Broadcaster holds the channels of one session. It is an auction.Observer:
// Observe runs on the session goroutine, so frames reach every channel in
// revision order.
type Broadcaster struct {
	sessionID string
	onDrop    func(participantID string)

	mu       sync.RWMutex
	channels map[*Channel]struct{}
}

type Option func(*Broadcaster)

// WithDropHook is called once per frame dropped from a slow channel.
func WithDropHook(fn func(participantID string)) Option {
	return func(b *Broadcaster) { b.onDrop = fn }
}

func New(sessionID string, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		sessionID: sessionID,
		channels:  make(map[*Channel]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broadcaster) Attach(c *Channel) {
	b.mu.Lock()
	b.channels[c] = struct{}{}
	b.mu.Unlock()
}

// Detach removes and closes a channel.
func (b *Broadcaster) Detach(c *Channel) {
	b.mu.Lock()
	delete(b.channels, c)
	b.mu.Unlock()
	c.Close()
}

// Observe encodes the envelope once and queues it on every channel.
func (b *Broadcaster) Observe(env protocol.Envelope) {
	f, err := Encode(env)
	if err != nil {
		log.Error().Err(err).Str("session_id", b.sessionID).Str("type", string(env.Type)).Msg("failed to encode event")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.channels {
		b.push(c, f)
	}
}

// Send queues an envelope on one channel.
func (b *Broadcaster) Send(c *Channel, env protocol.Envelope) error {
	f, err := Encode(env)
	if err != nil {
		return err
	}
	b.push(c, f)
	return nil
}

// SendTo queues an envelope on every channel of a participant.
func (b *Broadcaster) SendTo(participantID string, env protocol.Envelope) error {
	f, err := Encode(env)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	sent := 0
	for c := range b.channels {
		if c.ParticipantID == participantID {
			b.push(c, f)
			sent++
		}
	}
	if sent == 0 {
		return &protocol.ConnectionError{Op: "send", Err: fmt.Errorf("%s is not connected", participantID)}
	}
	return nil
}

func (b *Broadcaster) push(c *Channel, f Frame) {
	if c.Push(f) {
		log.Debug().Str("session_id", b.sessionID).Str("participant_id", c.ParticipantID).
			Uint64("dropped", c.Dropped()).Msg("slow channel dropped oldest frame")
		if b.onDrop != nil {
			b.onDrop(c.ParticipantID)
		}
	}
}

// Connected reports whether the participant has at least one channel.
func (b *Broadcaster) Connected(participantID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.channels {
		if c.ParticipantID == participantID {
			return true
		}
	}
	return false
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

// Close detaches every channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	chans := b.channels
	b.channels = make(map[*Channel]struct{})
	b.mu.Unlock()
	for c := range chans {
		c.Close()
	}
}

// Encode marshals an envelope into a frame.
func Encode(env protocol.Envelope) (Frame, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: env.Type, Revision: env.Revision, Data: data}, nil
}
