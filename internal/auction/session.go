package auction

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

var ErrSessionClosed = errors.New("session closed")

// Observer receives every event the session emits, in emission order, on
// the session goroutine. Implementations must not block.
type Observer interface {
	Observe(env protocol.Envelope)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(env protocol.Envelope)

func (f ObserverFunc) Observe(env protocol.Envelope) { f(env) }

// Session is the single writer for one auction. Every mutation, snapshot,
// timer expiry and tick runs on its goroutine, one at a time.
type Session struct {
	ID string

	m         *machine
	clock     clockwork.Clock
	ticker    clockwork.Ticker
	observers []Observer

	inbox    chan func()
	expiries chan uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession starts the actor. Observers are fixed for the session's life.
func NewSession(id string, cfg Config, observers ...Observer) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		clock:     cfg.Clock,
		observers: observers,
		inbox:     make(chan func(), 64),
		expiries:  make(chan uint64, 4),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.m = newMachine(id, cfg, s.onExpire)
	s.ticker = cfg.Clock.NewTicker(cfg.TickInterval)
	go s.loop()
	return s
}

func (s *Session) onExpire(gen uint64) {
	select {
	case s.expiries <- gen:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	defer close(s.done)
	defer s.ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.m.timer.Cancel()
			return
		case fn := <-s.inbox:
			fn()
		case gen := <-s.expiries:
			s.m.expire(gen)
		case <-s.ticker.Chan():
			s.m.tick()
		}
		s.flush()
	}
}

func (s *Session) flush() {
	for _, env := range s.m.drain() {
		for _, o := range s.observers {
			o.Observe(env)
		}
	}
}

// exec runs fn on the actor and waits for it and for delivery of whatever
// it emitted. A queued fn whose caller gave up before it started is skipped;
// once fn has started, exec waits for it to finish so the caller always
// learns whether it took effect.
func (s *Session) exec(ctx context.Context, fn func()) error {
	const (
		queued int32 = iota
		started
		abandoned
	)
	var state atomic.Int32
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		if !state.CompareAndSwap(queued, started) {
			return
		}
		fn()
		s.flush()
	}
	select {
	case s.inbox <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(queued, abandoned) {
			return ctx.Err()
		}
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Do applies a command on behalf of caller.
func (s *Session) Do(ctx context.Context, caller Caller, cmd protocol.Command) (Outcome, error) {
	var (
		out    Outcome
		cmdErr error
	)
	err := s.exec(ctx, func() {
		out, cmdErr = s.m.apply(caller, cmd)
	})
	if err != nil {
		return Outcome{}, err
	}
	if cmdErr != nil {
		log.Debug().Err(cmdErr).Str("session_id", s.ID).Str("participant_id", caller.ParticipantID).
			Str("command", string(cmd.Kind())).Msg("command rejected")
	}
	return out, cmdErr
}

// Join registers a connection and returns the snapshot taken right after its
// JOIN event. attach runs on the actor after the snapshot is taken and
// before any later event is emitted, so a subscriber added there misses
// nothing and sees nothing twice.
func (s *Session) Join(ctx context.Context, p Participant, attach func(protocol.Snapshot)) (protocol.Snapshot, error) {
	var (
		snap    protocol.Snapshot
		joinErr error
	)
	err := s.exec(ctx, func() {
		if joinErr = s.m.join(p); joinErr != nil {
			return
		}
		s.flush()
		snap = s.m.snapshot()
		if attach != nil {
			attach(snap)
		}
	})
	if err != nil {
		return protocol.Snapshot{}, err
	}
	return snap, joinErr
}

// Leave drops one connection of a participant.
func (s *Session) Leave(ctx context.Context, participantID string) (LeaveResult, error) {
	var res LeaveResult
	err := s.exec(ctx, func() {
		res = s.m.leave(participantID)
	})
	return res, err
}

// Snapshot returns a consistent view at the current revision.
func (s *Session) Snapshot(ctx context.Context) (protocol.Snapshot, error) {
	var snap protocol.Snapshot
	err := s.exec(ctx, func() {
		snap = s.m.snapshot()
	})
	return snap, err
}

// History returns the bids after since on a lot; an empty lotID means the
// active lot. Reopening a requeued lot starts a new round with sequence 1,
// so only the latest round is returned, as the store's ListBids does.
func (s *Session) History(ctx context.Context, lotID string, since uint64) (protocol.BidHistory, error) {
	var (
		h       protocol.BidHistory
		histErr error
	)
	err := s.exec(ctx, func() {
		h, histErr = s.m.history(lotID, since)
	})
	if err != nil {
		return protocol.BidHistory{}, err
	}
	return h, histErr
}

// Close stops the actor and its timer.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) Done() <-chan struct{} { return s.done }
