package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names an event on the wire.
type Kind string

const (
	KindSessionInitialized Kind = "SESSION_INITIALIZED"
	KindJoin               Kind = "JOIN"
	KindLeave              Kind = "LEAVE"
	KindStateSnapshot      Kind = "STATE_SNAPSHOT"
	KindStateTransition    Kind = "STATE_TRANSITION"
	KindLotOpened          Kind = "LOT_OPENED"
	KindBidAccepted        Kind = "BID_ACCEPTED"
	KindBidRejected        Kind = "BID_REJECTED"
	KindLotClosed          Kind = "LOT_CLOSED"
	KindLotRequeued        Kind = "LOT_REQUEUED"
	KindTimerTick          Kind = "TIMER_TICK"
	KindTimerExtended      Kind = "TIMER_EXTENDED"
	KindAuctioneerReplaced Kind = "AUCTIONEER_REPLACED"
	KindAudioMicOn         Kind = "AUDIO_MIC_ON"
	KindAudioMicOff        Kind = "AUDIO_MIC_OFF"
	KindAudioMute          Kind = "AUDIO_MUTE"
	KindAudioNegotiate     Kind = "AUDIO_NEGOTIATE"
	KindAudioListener      Kind = "AUDIO_LISTENER_JOINED"
	KindAudioPeerFailed    Kind = "AUDIO_PEER_FAILED"
	KindAudioStatus        Kind = "AUDIO_STATUS"
	KindBidHistory         Kind = "BID_HISTORY"
	KindCommandAck         Kind = "COMMAND_ACK"
	KindCommandError       Kind = "COMMAND_ERROR"
)

// Event is the closed set of payloads the server emits. The unexported
// marker keeps the set closed to this package.
type Event interface {
	EventKind() Kind
	isEvent()
}

// Transition names a top-level status change.
type Transition string

const (
	TransitionStart  Transition = "start"
	TransitionPause  Transition = "pause"
	TransitionResume Transition = "resume"
	TransitionEnd    Transition = "end"
)

type SessionInitialized struct {
	Status           string     `json:"status"`
	BidWindowSeconds int        `json:"bid_window_seconds"`
	AuctioneerID     string     `json:"auctioneer_id,omitempty"`
	Teams            []TeamView `json:"teams"`
	Lots             []LotView  `json:"lots"`
}

// Join carries the team when the join created it.
type Join struct {
	ParticipantID string    `json:"participant_id"`
	Role          Role      `json:"role"`
	TeamID        string    `json:"team_id,omitempty"`
	Team          *TeamView `json:"team,omitempty"`
}

type Leave struct {
	ParticipantID string `json:"participant_id"`
}

type StateSnapshot struct {
	Snapshot
}

type StateTransition struct {
	Transition  Transition `json:"transition"`
	Status      string     `json:"status"`
	LotDeadline time.Time  `json:"lot_deadline,omitempty"`
}

type LotOpened struct {
	LotID       string    `json:"lot_id"`
	Name        string    `json:"name,omitempty"`
	BasePrice   int64     `json:"base_price"`
	LotDeadline time.Time `json:"lot_deadline"`
}

type BidAccepted struct {
	BidID          string    `json:"bid_id"`
	LotID          string    `json:"lot_id"`
	ParticipantID  string    `json:"participant_id"`
	TeamID         string    `json:"team_id"`
	Amount         int64     `json:"amount"`
	SequenceNumber uint64    `json:"sequence_number"`
	AcceptedAt     time.Time `json:"accepted_at"`
	LotDeadline    time.Time `json:"lot_deadline"`
}

type BidRejectedEvent struct {
	RequestID string       `json:"request_id,omitempty"`
	Reason    RejectReason `json:"reason"`
	Amount    int64        `json:"amount"`
	Current   int64        `json:"current"`
}

type LotClosed struct {
	LotID           string `json:"lot_id"`
	Sold            bool   `json:"sold"`
	WinnerID        string `json:"winner_id,omitempty"`
	TeamID          string `json:"team_id,omitempty"`
	FinalAmount     int64  `json:"final_amount,omitempty"`
	RemainingBudget int64  `json:"remaining_budget,omitempty"`
}

type LotRequeued struct {
	LotID string `json:"lot_id"`
}

type TimerTick struct {
	LotID            string `json:"lot_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type TimerExtended struct {
	LotID       string    `json:"lot_id"`
	Seconds     int       `json:"seconds"`
	LotDeadline time.Time `json:"lot_deadline,omitempty"`
}

type AuctioneerReplaced struct {
	PreviousID    string `json:"previous_id,omitempty"`
	ParticipantID string `json:"participant_id"`
}

type AudioMicOn struct {
	BroadcasterID string `json:"broadcaster_id"`
}

type AudioMicOff struct {
	BroadcasterID string `json:"broadcaster_id"`
}

type AudioMuteChanged struct {
	BroadcasterID string `json:"broadcaster_id"`
	Muted         bool   `json:"muted"`
}

type AudioNegotiate struct {
	Signal  SignalKind      `json:"signal"`
	FromID  string          `json:"from_id"`
	ToID    string          `json:"to_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AudioListenerJoined struct {
	ListenerID string `json:"listener_id"`
}

type AudioPeerFailed struct {
	ListenerID string `json:"listener_id"`
	Reason     string `json:"reason"`
}

type AudioStatus struct {
	Streaming     bool       `json:"streaming"`
	BroadcasterID string     `json:"broadcaster_id,omitempty"`
	Muted         bool       `json:"muted"`
	Peers         []PeerView `json:"peers"`
}

type BidHistory struct {
	LotID         string    `json:"lot_id"`
	SinceSequence uint64    `json:"since_sequence"`
	Bids          []BidView `json:"bids"`
}

type CommandAck struct {
	RequestID string      `json:"request_id,omitempty"`
	Command   CommandKind `json:"command"`
}

type CommandError struct {
	RequestID string      `json:"request_id,omitempty"`
	Command   CommandKind `json:"command,omitempty"`
	Code      Code        `json:"code"`
	Message   string      `json:"message"`
}

func (SessionInitialized) EventKind() Kind  { return KindSessionInitialized }
func (Join) EventKind() Kind                { return KindJoin }
func (Leave) EventKind() Kind               { return KindLeave }
func (StateSnapshot) EventKind() Kind       { return KindStateSnapshot }
func (StateTransition) EventKind() Kind     { return KindStateTransition }
func (LotOpened) EventKind() Kind           { return KindLotOpened }
func (BidAccepted) EventKind() Kind         { return KindBidAccepted }
func (BidRejectedEvent) EventKind() Kind    { return KindBidRejected }
func (LotClosed) EventKind() Kind           { return KindLotClosed }
func (LotRequeued) EventKind() Kind         { return KindLotRequeued }
func (TimerTick) EventKind() Kind           { return KindTimerTick }
func (TimerExtended) EventKind() Kind       { return KindTimerExtended }
func (AuctioneerReplaced) EventKind() Kind  { return KindAuctioneerReplaced }
func (AudioMicOn) EventKind() Kind          { return KindAudioMicOn }
func (AudioMicOff) EventKind() Kind         { return KindAudioMicOff }
func (AudioMuteChanged) EventKind() Kind    { return KindAudioMute }
func (AudioNegotiate) EventKind() Kind      { return KindAudioNegotiate }
func (AudioListenerJoined) EventKind() Kind { return KindAudioListener }
func (AudioPeerFailed) EventKind() Kind     { return KindAudioPeerFailed }
func (AudioStatus) EventKind() Kind         { return KindAudioStatus }
func (BidHistory) EventKind() Kind          { return KindBidHistory }
func (CommandAck) EventKind() Kind          { return KindCommandAck }
func (CommandError) EventKind() Kind        { return KindCommandError }

func (SessionInitialized) isEvent()  {}
func (Join) isEvent()                {}
func (Leave) isEvent()               {}
func (StateSnapshot) isEvent()       {}
func (StateTransition) isEvent()     {}
func (LotOpened) isEvent()           {}
func (BidAccepted) isEvent()         {}
func (BidRejectedEvent) isEvent()    {}
func (LotClosed) isEvent()           {}
func (LotRequeued) isEvent()         {}
func (TimerTick) isEvent()           {}
func (TimerExtended) isEvent()       {}
func (AuctioneerReplaced) isEvent()  {}
func (AudioMicOn) isEvent()          {}
func (AudioMicOff) isEvent()         {}
func (AudioMuteChanged) isEvent()    {}
func (AudioNegotiate) isEvent()      {}
func (AudioListenerJoined) isEvent() {}
func (AudioPeerFailed) isEvent()     {}
func (AudioStatus) isEvent()         {}
func (BidHistory) isEvent()          {}
func (CommandAck) isEvent()          {}
func (CommandError) isEvent()        {}

// Envelope is one delivered event. Revision is the session revision the
// event committed; direct replies and ticks do not advance it.
type Envelope struct {
	Type      Kind      `json:"type"`
	Revision  uint64    `json:"revision"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Data      Event     `json:"data"`
}

// Committed reports whether the event advanced the session revision.
func (e Envelope) Committed() bool {
	switch e.Type {
	case KindTimerTick, KindStateSnapshot, KindBidRejected, KindAudioNegotiate,
		KindAudioListener, KindAudioPeerFailed, KindAudioStatus, KindBidHistory,
		KindCommandAck, KindCommandError:
		return false
	}
	return true
}

// Wrap builds an uncommitted envelope, used for direct replies.
func Wrap(sessionID string, at time.Time, ev Event) Envelope {
	return Envelope{Type: ev.EventKind(), SessionID: sessionID, At: at, Data: ev}
}

type rawEnvelope struct {
	Type      Kind            `json:"type"`
	Revision  uint64          `json:"revision"`
	SessionID string          `json:"session_id"`
	At        time.Time       `json:"at"`
	Data      json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes the payload into its concrete event type.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw rawEnvelope
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ev, err := decodeEvent(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	*e = Envelope{Type: raw.Type, Revision: raw.Revision, SessionID: raw.SessionID, At: raw.At, Data: ev}
	return nil
}

func decodeEvent(kind Kind, data json.RawMessage) (Event, error) {
	switch kind {
	case KindSessionInitialized:
		return decodeAs[SessionInitialized](data)
	case KindJoin:
		return decodeAs[Join](data)
	case KindLeave:
		return decodeAs[Leave](data)
	case KindStateSnapshot:
		return decodeAs[StateSnapshot](data)
	case KindStateTransition:
		return decodeAs[StateTransition](data)
	case KindLotOpened:
		return decodeAs[LotOpened](data)
	case KindBidAccepted:
		return decodeAs[BidAccepted](data)
	case KindBidRejected:
		return decodeAs[BidRejectedEvent](data)
	case KindLotClosed:
		return decodeAs[LotClosed](data)
	case KindLotRequeued:
		return decodeAs[LotRequeued](data)
	case KindTimerTick:
		return decodeAs[TimerTick](data)
	case KindTimerExtended:
		return decodeAs[TimerExtended](data)
	case KindAuctioneerReplaced:
		return decodeAs[AuctioneerReplaced](data)
	case KindAudioMicOn:
		return decodeAs[AudioMicOn](data)
	case KindAudioMicOff:
		return decodeAs[AudioMicOff](data)
	case KindAudioMute:
		return decodeAs[AudioMuteChanged](data)
	case KindAudioNegotiate:
		return decodeAs[AudioNegotiate](data)
	case KindAudioListener:
		return decodeAs[AudioListenerJoined](data)
	case KindAudioPeerFailed:
		return decodeAs[AudioPeerFailed](data)
	case KindAudioStatus:
		return decodeAs[AudioStatus](data)
	case KindBidHistory:
		return decodeAs[BidHistory](data)
	case KindCommandAck:
		return decodeAs[CommandAck](data)
	case KindCommandError:
		return decodeAs[CommandError](data)
	}
	return nil, fmt.Errorf("unknown event type %q", kind)
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
