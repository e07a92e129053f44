package protocol

import (
	"encoding/json"
	"strings"
)

// CommandKind names a client request.
type CommandKind string

const (
	CmdInitialize        CommandKind = "initializeSession"
	CmdStart             CommandKind = "start"
	CmdPause             CommandKind = "pause"
	CmdResume            CommandKind = "resume"
	CmdEnd               CommandKind = "end"
	CmdOpenLot           CommandKind = "openLot"
	CmdSubmitBid         CommandKind = "submitBid"
	CmdCloseLot          CommandKind = "closeLot"
	CmdExtendTimer       CommandKind = "extendTimer"
	CmdRequeueLot        CommandKind = "requeueLot"
	CmdReplaceAuctioneer CommandKind = "replaceAuctioneer"
	CmdAudioStart        CommandKind = "audioStart"
	CmdAudioStop         CommandKind = "audioStop"
	CmdAudioMute         CommandKind = "audioMute"
	CmdAudioListen       CommandKind = "audioListen"
	CmdAudioLeave        CommandKind = "audioLeave"
	CmdAudioSignal       CommandKind = "audioSignal"
	CmdAudioStatus       CommandKind = "audioStatus"
	CmdResync            CommandKind = "resync"
	CmdAck               CommandKind = "ack"
)

// Upper bounds on timer durations a command may request.
const (
	MaxBidWindowSeconds = 24 * 60 * 60
	MaxExtendSeconds    = 60 * 60
)

// Command is the closed set of requests a participant can make.
type Command interface {
	Kind() CommandKind
	Validate() error
}

// TeamSpec seeds a team and its budget at initialization.
type TeamSpec struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name,omitempty" yaml:"name"`
	Budget int64  `json:"budget" yaml:"budget"`
}

// LotSpec seeds the lot queue at initialization.
type LotSpec struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name,omitempty" yaml:"name"`
	BasePrice int64  `json:"base_price" yaml:"base_price"`
}

type InitializeSession struct {
	BidWindowSeconds int        `json:"bid_window_seconds,omitempty"`
	AuctioneerID     string     `json:"auctioneer_id,omitempty"`
	Teams            []TeamSpec `json:"teams,omitempty"`
	Lots             []LotSpec  `json:"lots,omitempty"`
	EndWhenExhausted bool       `json:"end_when_exhausted,omitempty"`
}

func (InitializeSession) Kind() CommandKind { return CmdInitialize }

func (c InitializeSession) Validate() error {
	if c.BidWindowSeconds < 0 || c.BidWindowSeconds > MaxBidWindowSeconds {
		return Invalid("bid_window_seconds", "must be between 0 and %d", MaxBidWindowSeconds)
	}
	seen := make(map[string]bool)
	for _, t := range c.Teams {
		if strings.TrimSpace(t.ID) == "" {
			return Invalid("teams", "team id required")
		}
		if t.Budget < 0 {
			return Invalid("teams", "budget for %s must not be negative", t.ID)
		}
		if seen[t.ID] {
			return Invalid("teams", "duplicate team %s", t.ID)
		}
		seen[t.ID] = true
	}
	seen = make(map[string]bool)
	for _, l := range c.Lots {
		if strings.TrimSpace(l.ID) == "" {
			return Invalid("lots", "lot id required")
		}
		if l.BasePrice < 0 {
			return Invalid("lots", "base price for %s must not be negative", l.ID)
		}
		if seen[l.ID] {
			return Invalid("lots", "duplicate lot %s", l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

type Start struct{}

func (Start) Kind() CommandKind { return CmdStart }
func (Start) Validate() error   { return nil }

type Pause struct{}

func (Pause) Kind() CommandKind { return CmdPause }
func (Pause) Validate() error   { return nil }

type Resume struct{}

func (Resume) Kind() CommandKind { return CmdResume }
func (Resume) Validate() error   { return nil }

type End struct{}

func (End) Kind() CommandKind { return CmdEnd }
func (End) Validate() error   { return nil }

type OpenLot struct {
	LotID     string `json:"lot_id"`
	Name      string `json:"name,omitempty"`
	BasePrice int64  `json:"base_price"`
}

func (OpenLot) Kind() CommandKind { return CmdOpenLot }

func (c OpenLot) Validate() error {
	if strings.TrimSpace(c.LotID) == "" {
		return Invalid("lot_id", "required")
	}
	if c.BasePrice < 0 {
		return Invalid("base_price", "must not be negative")
	}
	return nil
}

// SubmitBid raises the current price. Basis is the last ledger sequence the
// bidder observed; a bid based on a stale sequence is superseded.
type SubmitBid struct {
	Amount int64   `json:"amount"`
	Basis  *uint64 `json:"basis_sequence,omitempty"`
}

func (SubmitBid) Kind() CommandKind { return CmdSubmitBid }

func (c SubmitBid) Validate() error {
	if c.Amount <= 0 {
		return Invalid("amount", "must be positive")
	}
	return nil
}

type CloseLot struct {
	Sold  bool `json:"sold"`
	Force bool `json:"force,omitempty"`
}

func (CloseLot) Kind() CommandKind { return CmdCloseLot }
func (CloseLot) Validate() error   { return nil }

type ExtendTimer struct {
	Seconds int `json:"seconds"`
}

func (ExtendTimer) Kind() CommandKind { return CmdExtendTimer }

func (c ExtendTimer) Validate() error {
	if c.Seconds <= 0 || c.Seconds > MaxExtendSeconds {
		return Invalid("seconds", "must be between 1 and %d", MaxExtendSeconds)
	}
	return nil
}

type RequeueLot struct {
	LotID string `json:"lot_id"`
}

func (RequeueLot) Kind() CommandKind { return CmdRequeueLot }

func (c RequeueLot) Validate() error {
	if strings.TrimSpace(c.LotID) == "" {
		return Invalid("lot_id", "required")
	}
	return nil
}

type ReplaceAuctioneer struct {
	ParticipantID string `json:"participant_id"`
}

func (ReplaceAuctioneer) Kind() CommandKind { return CmdReplaceAuctioneer }

func (c ReplaceAuctioneer) Validate() error {
	if strings.TrimSpace(c.ParticipantID) == "" {
		return Invalid("participant_id", "required")
	}
	return nil
}

type AudioStart struct{}

func (AudioStart) Kind() CommandKind { return CmdAudioStart }
func (AudioStart) Validate() error   { return nil }

type AudioStop struct{}

func (AudioStop) Kind() CommandKind { return CmdAudioStop }
func (AudioStop) Validate() error   { return nil }

type AudioMute struct {
	Muted bool `json:"muted"`
}

func (AudioMute) Kind() CommandKind { return CmdAudioMute }
func (AudioMute) Validate() error   { return nil }

type AudioListen struct{}

func (AudioListen) Kind() CommandKind { return CmdAudioListen }
func (AudioListen) Validate() error   { return nil }

type AudioLeave struct{}

func (AudioLeave) Kind() CommandKind { return CmdAudioLeave }
func (AudioLeave) Validate() error   { return nil }

// SignalKind is the negotiation step carried by an audio signal.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

type AudioSignal struct {
	Signal  SignalKind      `json:"signal"`
	ToID    string          `json:"to_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (AudioSignal) Kind() CommandKind { return CmdAudioSignal }

func (c AudioSignal) Validate() error {
	switch c.Signal {
	case SignalOffer, SignalAnswer, SignalCandidate:
	default:
		return Invalid("signal", "unknown signal %q", c.Signal)
	}
	if strings.TrimSpace(c.ToID) == "" {
		return Invalid("to_id", "required")
	}
	return nil
}

type AudioStatusQuery struct{}

func (AudioStatusQuery) Kind() CommandKind { return CmdAudioStatus }
func (AudioStatusQuery) Validate() error   { return nil }

// Resync asks for bids after SinceSequence on a lot, or a full snapshot when
// the delta is no longer available.
type Resync struct {
	LotID         string `json:"lot_id,omitempty"`
	SinceSequence uint64 `json:"since_sequence"`
	Full          bool   `json:"full,omitempty"`
}

func (Resync) Kind() CommandKind { return CmdResync }
func (Resync) Validate() error   { return nil }

// Ack records the last revision a client applied.
type Ack struct {
	Revision uint64 `json:"revision"`
}

func (Ack) Kind() CommandKind { return CmdAck }
func (Ack) Validate() error   { return nil }

// Request is the client frame on the websocket.
type Request struct {
	ID   string          `json:"id,omitempty"`
	Kind CommandKind     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeCommand turns a kind and payload into a validated Command.
func DecodeCommand(kind CommandKind, data json.RawMessage) (Command, error) {
	var cmd Command
	switch kind {
	case CmdInitialize:
		var c InitializeSession
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdStart:
		cmd = Start{}
	case CmdPause:
		cmd = Pause{}
	case CmdResume:
		cmd = Resume{}
	case CmdEnd:
		cmd = End{}
	case CmdOpenLot:
		var c OpenLot
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdSubmitBid:
		var c SubmitBid
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdCloseLot:
		var c CloseLot
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdExtendTimer:
		var c ExtendTimer
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdRequeueLot:
		var c RequeueLot
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdReplaceAuctioneer:
		var c ReplaceAuctioneer
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdAudioStart:
		cmd = AudioStart{}
	case CmdAudioStop:
		cmd = AudioStop{}
	case CmdAudioMute:
		var c AudioMute
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdAudioListen:
		cmd = AudioListen{}
	case CmdAudioLeave:
		cmd = AudioLeave{}
	case CmdAudioSignal:
		var c AudioSignal
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdAudioStatus:
		cmd = AudioStatusQuery{}
	case CmdResync:
		var c Resync
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	case CmdAck:
		var c Ack
		if err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		cmd = c
	default:
		return nil, Invalid("kind", "unknown command %q", kind)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeInto(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Invalid("data", "%v", err)
	}
	return nil
}
