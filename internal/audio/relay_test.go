package audio

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

type fakeRouter struct {
	mu   sync.Mutex
	sent map[string][]protocol.Envelope
	down map[string]bool
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{sent: make(map[string][]protocol.Envelope), down: make(map[string]bool)}
}

func (f *fakeRouter) SendTo(id string, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[id] {
		return &protocol.ConnectionError{Op: "send", Err: fmt.Errorf("%s is not connected", id)}
	}
	f.sent[id] = append(f.sent[id], env)
	return nil
}

func (f *fakeRouter) messages(id string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.sent[id]...)
}

func (f *fakeRouter) setDown(id string) {
	f.mu.Lock()
	f.down[id] = true
	f.mu.Unlock()
}

func peerState(r *Relay, id string) PeerState {
	for _, p := range r.Status().Peers {
		if p.ListenerID == id {
			return PeerState(p.State)
		}
	}
	return ""
}

func TestListenWithoutBroadcast(t *testing.T) {
	r := NewRelay("s1", newFakeRouter())
	err := r.Listen("l1")
	var nf *protocol.NegotiationFailure
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, PeerPending, peerState(r, "l1"))
	assert.False(t, r.Status().Streaming)
}

func TestStartInvitesWaitingListeners(t *testing.T) {
	router := newFakeRouter()
	r := NewRelay("s1", router)
	_ = r.Listen("l1")
	_ = r.Listen("l2")

	r.Observe(protocol.Envelope{Type: protocol.KindAudioMicOn, Data: protocol.AudioMicOn{BroadcasterID: "auc"}})

	msgs := router.messages("auc")
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.AudioListenerJoined{ListenerID: "l1"}, msgs[0].Data)
	assert.Equal(t, protocol.AudioListenerJoined{ListenerID: "l2"}, msgs[1].Data)
	assert.True(t, r.Status().Streaming)
}

func TestOfferAnswerConnects(t *testing.T) {
	router := newFakeRouter()
	var results []string
	r := NewRelay("s1", router, WithResultHook(func(res string) { results = append(results, res) }))
	r.Start("auc")
	require.NoError(t, r.Listen("l1"))

	sdp := json.RawMessage(`{"sdp":"v=0"}`)
	require.NoError(t, r.Signal("auc", protocol.AudioSignal{Signal: protocol.SignalOffer, ToID: "l1", Payload: sdp}))
	assert.Equal(t, PeerOffered, peerState(r, "l1"))

	got := router.messages("l1")
	require.Len(t, got, 1)
	neg := got[0].Data.(protocol.AudioNegotiate)
	assert.Equal(t, "auc", neg.FromID)
	assert.JSONEq(t, string(sdp), string(neg.Payload))

	require.NoError(t, r.Signal("l1", protocol.AudioSignal{Signal: protocol.SignalCandidate, ToID: "auc"}))
	require.NoError(t, r.Signal("l1", protocol.AudioSignal{Signal: protocol.SignalAnswer, ToID: "auc"}))
	assert.Equal(t, PeerConnected, peerState(r, "l1"))
	assert.Equal(t, []string{ResultConnected}, results)
}

func TestSignalDirection(t *testing.T) {
	r := NewRelay("s1", newFakeRouter())
	r.Start("auc")
	require.NoError(t, r.Listen("l1"))
	require.NoError(t, r.Listen("l2"))

	err := r.Signal("l1", protocol.AudioSignal{Signal: protocol.SignalOffer, ToID: "auc"})
	assert.Equal(t, protocol.CodeValidation, protocol.CodeOf(err))

	err = r.Signal("auc", protocol.AudioSignal{Signal: protocol.SignalAnswer, ToID: "l1"})
	assert.Equal(t, protocol.CodeValidation, protocol.CodeOf(err))

	err = r.Signal("l1", protocol.AudioSignal{Signal: protocol.SignalCandidate, ToID: "l2"})
	assert.Equal(t, protocol.CodeValidation, protocol.CodeOf(err))

	err = r.Signal("auc", protocol.AudioSignal{Signal: protocol.SignalOffer, ToID: "ghost"})
	assert.Equal(t, protocol.CodeNotFound, protocol.CodeOf(err))
}

func TestRoutingFailureIsolatedToListener(t *testing.T) {
	router := newFakeRouter()
	r := NewRelay("s1", router)
	r.Start("auc")
	require.NoError(t, r.Listen("l1"))
	require.NoError(t, r.Listen("l2"))
	router.setDown("l1")

	err := r.Signal("auc", protocol.AudioSignal{Signal: protocol.SignalOffer, ToID: "l1"})
	var nf *protocol.NegotiationFailure
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "l1", nf.ListenerID)

	require.NoError(t, r.Signal("auc", protocol.AudioSignal{Signal: protocol.SignalOffer, ToID: "l2"}))
	assert.Equal(t, PeerFailed, peerState(r, "l1"))
	assert.Equal(t, PeerOffered, peerState(r, "l2"))

	var failed int
	for _, env := range router.messages("auc") {
		if env.Type == protocol.KindAudioPeerFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestNegotiationTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	router := newFakeRouter()
	results := make(chan string, 4)
	r := NewRelay("s1", router, WithClock(clock), WithTimeout(15*time.Second),
		WithResultHook(func(res string) { results <- res }))
	defer r.Close()
	r.Start("auc")
	require.NoError(t, r.Listen("l1"))

	clock.Advance(15 * time.Second)
	select {
	case res := <-results:
		assert.Equal(t, ResultTimeout, res)
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation did not time out")
	}
	assert.Equal(t, PeerFailed, peerState(r, "l1"))

	// listening again starts a fresh attempt
	require.NoError(t, r.Listen("l1"))
	assert.Equal(t, PeerPending, peerState(r, "l1"))
}

func TestBroadcasterLeaveStopsBroadcast(t *testing.T) {
	r := NewRelay("s1", newFakeRouter())
	r.Start("auc")
	require.NoError(t, r.Listen("l1"))

	r.Observe(protocol.Envelope{Type: protocol.KindLeave, Data: protocol.Leave{ParticipantID: "auc"}})
	st := r.Status()
	assert.False(t, st.Streaming)
	require.Len(t, st.Peers, 1)
	assert.Equal(t, string(PeerPending), st.Peers[0].State)

	r.Leave("l1")
	assert.Empty(t, r.Status().Peers)
}
