package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

// StreamName is the JetStream stream holding mirrored session events.
const StreamName = "AUCTION_EVENTS"

// Publisher sends one message to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subject returns where an event for a session is published, e.g.
// "hammer.s1.bid_accepted".
func Subject(prefix, sessionID string, kind protocol.Kind) string {
	return fmt.Sprintf("%s.%s.%s", prefix, sessionID, strings.ToLower(string(kind)))
}

// Conn is a NATS connection with a JetStream context.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS and ensures the event stream covers prefix.>.
func Connect(ctx context.Context, url, prefix string) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("hammer"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{prefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", StreamName, err)
	}
	log.Info().Str("stream", StreamName).Str("subjects", prefix+".>").Msg("jetstream stream ready")

	return &Conn{nc: nc, js: js}, nil
}

// Publish sends through JetStream and waits for the stream ack.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

// Close drains the connection.
func (c *Conn) Close() error {
	return c.nc.Drain()
}

// Mirror republishes a session's committed events. Observe never blocks the
// session: events queue to a worker and are dropped when the queue is full.
type Mirror struct {
	prefix  string
	pub     Publisher
	timeout time.Duration

	queue   chan protocol.Envelope
	dropped atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMirror starts the publishing worker.
func NewMirror(pub Publisher, prefix string, buffer int) *Mirror {
	if buffer <= 0 {
		buffer = 1024
	}
	m := &Mirror{
		prefix:  prefix,
		pub:     pub,
		timeout: 5 * time.Second,
		queue:   make(chan protocol.Envelope, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

// Observe queues committed events; ticks and direct replies are not mirrored.
func (m *Mirror) Observe(env protocol.Envelope) {
	if !env.Committed() {
		return
	}
	select {
	case m.queue <- env:
	default:
		m.dropped.Add(1)
		log.Warn().Str("session_id", env.SessionID).Uint64("revision", env.Revision).Msg("event mirror queue full, dropping")
	}
}

func (m *Mirror) Dropped() uint64 { return m.dropped.Load() }

func (m *Mirror) run() {
	defer close(m.done)
	for {
		select {
		case env := <-m.queue:
			m.publish(env)
		case <-m.stop:
			// Flush what is already queued.
			for {
				select {
				case env := <-m.queue:
					m.publish(env)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) publish(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Msg("failed to encode event for mirror")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	subject := Subject(m.prefix, env.SessionID, env.Type)
	if err := m.pub.Publish(ctx, subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Uint64("revision", env.Revision).Msg("failed to mirror event")
	}
}

// Close stops the worker after it publishes the backlog.
func (m *Mirror) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}
