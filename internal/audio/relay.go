// Package audio brokers the auctioneer's live audio negotiation. Media never
// passes through the server; the relay only routes offer, answer and
// candidate messages between the broadcaster and each listener.
package audio

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

// Router delivers a direct message to one participant.
type Router interface {
	SendTo(participantID string, env protocol.Envelope) error
}

type PeerState string

const (
	PeerPending   PeerState = "pending"
	PeerOffered   PeerState = "offered"
	PeerConnected PeerState = "connected"
	PeerFailed    PeerState = "failed"
)

// Negotiation results reported to the result hook.
const (
	ResultConnected = "connected"
	ResultFailed    = "failed"
	ResultTimeout   = "timeout"
)

type peer struct {
	state  PeerState
	reason string
	gen    uint64
	timer  clockwork.Timer
}

// Relay holds one session's negotiation paths. Each listener has its own
// path to the broadcaster, and a failure on one never touches the others.
type Relay struct {
	sessionID string
	router    Router
	clock     clockwork.Clock
	timeout   time.Duration
	onResult  func(result string)

	mu          sync.Mutex
	broadcaster string
	peers       map[string]*peer
	closed      bool
}

type Option func(*Relay)

func WithClock(c clockwork.Clock) Option { return func(r *Relay) { r.clock = c } }

// WithTimeout bounds how long a listener may take to reach connected.
func WithTimeout(d time.Duration) Option { return func(r *Relay) { r.timeout = d } }

// WithResultHook observes every finished negotiation.
func WithResultHook(fn func(result string)) Option { return func(r *Relay) { r.onResult = fn } }

func NewRelay(sessionID string, router Router, opts ...Option) *Relay {
	r := &Relay{
		sessionID: sessionID,
		router:    router,
		clock:     clockwork.NewRealClock(),
		timeout:   15 * time.Second,
		peers:     make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe follows the session's mic and presence events so the relay's
// broadcaster always matches the committed audio state.
func (r *Relay) Observe(env protocol.Envelope) {
	switch ev := env.Data.(type) {
	case protocol.AudioMicOn:
		r.Start(ev.BroadcasterID)
	case protocol.AudioMicOff:
		r.Stop()
	case protocol.Leave:
		r.Leave(ev.ParticipantID)
	}
}

// Start makes id the broadcaster and asks it to offer to every listener
// already waiting.
func (r *Relay) Start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.broadcaster = id
	delete(r.peers, id)

	listeners := make([]string, 0, len(r.peers))
	for lid := range r.peers {
		listeners = append(listeners, lid)
	}
	sort.Strings(listeners)
	for _, lid := range listeners {
		r.invite(lid)
	}
	log.Info().Str("session_id", r.sessionID).Str("broadcaster_id", id).Int("listeners", len(listeners)).Msg("audio broadcast started")
}

// Stop ends the broadcast. Listeners stay registered for the next one.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broadcaster == "" {
		return
	}
	for _, p := range r.peers {
		r.disarm(p)
		p.state = PeerPending
		p.reason = ""
	}
	log.Info().Str("session_id", r.sessionID).Str("broadcaster_id", r.broadcaster).Msg("audio broadcast stopped")
	r.broadcaster = ""
}

// Listen registers a listener. Without a broadcaster the listener waits and
// a NegotiationFailure tells the caller there is nothing to hear yet.
func (r *Relay) Listen(listenerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if listenerID == r.broadcaster {
		return protocol.Invalid("participant_id", "the broadcaster cannot listen to itself")
	}
	if _, ok := r.peers[listenerID]; !ok {
		r.peers[listenerID] = &peer{state: PeerPending}
	}
	if r.broadcaster == "" {
		return &protocol.NegotiationFailure{ListenerID: listenerID, Reason: "no active broadcast"}
	}
	return r.invite(listenerID)
}

// invite tells the broadcaster about a listener and arms its timeout.
func (r *Relay) invite(listenerID string) error {
	p := r.peers[listenerID]
	r.disarm(p)
	p.state = PeerPending
	p.reason = ""

	env := protocol.Wrap(r.sessionID, r.clock.Now(), protocol.AudioListenerJoined{ListenerID: listenerID})
	if err := r.router.SendTo(r.broadcaster, env); err != nil {
		r.fail(listenerID, p, "broadcaster unreachable")
		return &protocol.NegotiationFailure{ListenerID: listenerID, Reason: err.Error()}
	}
	r.arm(listenerID, p)
	return nil
}

// Signal routes one negotiation message. Offers go broadcaster to listener,
// answers go listener to broadcaster, candidates go either way.
func (r *Relay) Signal(fromID string, sig protocol.AudioSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broadcaster == "" {
		return &protocol.NegotiationFailure{ListenerID: fromID, Reason: "no active broadcast"}
	}

	var listenerID string
	switch {
	case fromID == r.broadcaster:
		listenerID = sig.ToID
	case sig.ToID == r.broadcaster:
		listenerID = fromID
	default:
		return protocol.Invalid("to_id", "signals must be between the broadcaster and a listener")
	}
	p, ok := r.peers[listenerID]
	if !ok {
		return &protocol.NotFoundError{What: "listener", ID: listenerID}
	}

	switch sig.Signal {
	case protocol.SignalOffer:
		if fromID != r.broadcaster {
			return protocol.Invalid("signal", "only the broadcaster sends offers")
		}
	case protocol.SignalAnswer:
		if fromID == r.broadcaster {
			return protocol.Invalid("signal", "only listeners send answers")
		}
	}

	env := protocol.Wrap(r.sessionID, r.clock.Now(), protocol.AudioNegotiate{
		Signal:  sig.Signal,
		FromID:  fromID,
		ToID:    sig.ToID,
		Payload: sig.Payload,
	})
	if err := r.router.SendTo(sig.ToID, env); err != nil {
		r.fail(listenerID, p, "routing failed")
		return &protocol.NegotiationFailure{ListenerID: listenerID, Reason: err.Error()}
	}

	switch sig.Signal {
	case protocol.SignalOffer:
		if p.state != PeerConnected {
			p.state = PeerOffered
			p.reason = ""
			r.arm(listenerID, p)
		}
	case protocol.SignalAnswer:
		if p.state != PeerConnected {
			r.disarm(p)
			p.state = PeerConnected
			p.reason = ""
			r.result(ResultConnected)
		}
	}
	return nil
}

// Leave drops a listener, or ends the broadcast if the broadcaster left.
func (r *Relay) Leave(participantID string) {
	r.mu.Lock()
	if participantID == r.broadcaster {
		r.mu.Unlock()
		r.Stop()
		return
	}
	defer r.mu.Unlock()
	if p, ok := r.peers[participantID]; ok {
		r.disarm(p)
		delete(r.peers, participantID)
	}
}

// Status reports the broadcast and every listener path. Muted lives in the
// session state and is filled in by the caller.
func (r *Relay) Status() protocol.AudioStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := protocol.AudioStatus{
		Streaming:     r.broadcaster != "",
		BroadcasterID: r.broadcaster,
		Peers:         make([]protocol.PeerView, 0, len(r.peers)),
	}
	for id, p := range r.peers {
		st.Peers = append(st.Peers, protocol.PeerView{ListenerID: id, State: string(p.state), Reason: p.reason})
	}
	sort.Slice(st.Peers, func(i, j int) bool { return st.Peers[i].ListenerID < st.Peers[j].ListenerID })
	return st
}

// Close disarms every timeout.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, p := range r.peers {
		r.disarm(p)
	}
}

func (r *Relay) arm(listenerID string, p *peer) {
	r.disarm(p)
	gen := p.gen
	p.timer = r.clock.AfterFunc(r.timeout, func() { r.expire(listenerID, gen) })
}

func (r *Relay) disarm(p *peer) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}

func (r *Relay) expire(listenerID string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[listenerID]
	if !ok || p.gen != gen || r.closed || p.state == PeerConnected || p.state == PeerFailed {
		return
	}
	p.timer = nil
	r.fail(listenerID, p, ResultTimeout)
}

// fail marks one listener's path failed and tells both ends. Delivery of the
// notice is best effort.
func (r *Relay) fail(listenerID string, p *peer, reason string) {
	r.disarm(p)
	p.state = PeerFailed
	p.reason = reason
	if reason == ResultTimeout {
		r.result(ResultTimeout)
	} else {
		r.result(ResultFailed)
	}
	log.Warn().Str("session_id", r.sessionID).Str("listener_id", listenerID).Str("reason", reason).Msg("audio negotiation failed")

	env := protocol.Wrap(r.sessionID, r.clock.Now(), protocol.AudioPeerFailed{ListenerID: listenerID, Reason: reason})
	_ = r.router.SendTo(listenerID, env)
	if r.broadcaster != "" {
		_ = r.router.SendTo(r.broadcaster, env)
	}
}

func (r *Relay) result(res string) {
	if r.onResult != nil {
		r.onResult(res)
	}
}
