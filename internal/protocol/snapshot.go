package protocol

import "time"

// Session status and lot status values as they appear on the wire.
const (
	StatusNew    = "NEW"
	StatusReady  = "READY"
	StatusLive   = "LIVE"
	StatusPaused = "PAUSED"
	StatusEnded  = "ENDED"

	PhaseIdle          = "IDLE"
	PhaseBiddingActive = "BIDDING_ACTIVE"

	LotPending   = "PENDING"
	LotInBidding = "IN_BIDDING"
	LotSold      = "SOLD"
	LotUnsold    = "UNSOLD"
)

type SessionView struct {
	SessionID            string    `json:"session_id"`
	Status               string    `json:"status"`
	Phase                string    `json:"phase"`
	CurrentLotID         string    `json:"current_lot_id,omitempty"`
	CurrentBidAmount     int64     `json:"current_bid_amount"`
	LeadingParticipantID string    `json:"leading_participant_id,omitempty"`
	LotDeadline          time.Time `json:"lot_deadline,omitempty"`
	AuctioneerID         string    `json:"auctioneer_id,omitempty"`
	BidWindowSeconds     int       `json:"bid_window_seconds"`
}

type LotView struct {
	LotID                string `json:"lot_id"`
	Name                 string `json:"name,omitempty"`
	BasePrice            int64  `json:"base_price"`
	Status               string `json:"status"`
	WinningParticipantID string `json:"winning_participant_id,omitempty"`
	WinningTeamID        string `json:"winning_team_id,omitempty"`
	FinalAmount          int64  `json:"final_amount,omitempty"`
}

type BidView struct {
	BidID          string    `json:"bid_id"`
	LotID          string    `json:"lot_id"`
	ParticipantID  string    `json:"participant_id"`
	TeamID         string    `json:"team_id"`
	Amount         int64     `json:"amount"`
	SequenceNumber uint64    `json:"sequence_number"`
	AcceptedAt     time.Time `json:"accepted_at"`
}

type TeamView struct {
	TeamID          string   `json:"team_id"`
	Name            string   `json:"name,omitempty"`
	Budget          int64    `json:"budget"`
	RemainingBudget int64    `json:"remaining_budget"`
	Roster          []string `json:"roster"`
}

type ParticipantView struct {
	ParticipantID string `json:"participant_id"`
	Role          Role   `json:"role"`
	TeamID        string `json:"team_id,omitempty"`
	Online        bool   `json:"online"`
}

type AudioView struct {
	BroadcasterID string `json:"broadcaster_id,omitempty"`
	MicOn         bool   `json:"mic_on"`
	Muted         bool   `json:"muted"`
}

type PeerView struct {
	ListenerID string `json:"listener_id"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
}

// Snapshot is everything a client needs to render the room at one revision.
type Snapshot struct {
	Revision         uint64            `json:"revision"`
	Session          SessionView       `json:"session"`
	Lot              *LotView          `json:"lot,omitempty"`
	Lots             []LotView         `json:"lots"`
	Bids             []BidView         `json:"bids"`
	BidWindow        int               `json:"bid_window"`
	Teams            []TeamView        `json:"teams"`
	Participants     []ParticipantView `json:"participants"`
	Audio            AudioView         `json:"audio"`
	RemainingSeconds int               `json:"remaining_seconds"`
	ServerTime       time.Time         `json:"server_time"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Lot != nil {
		lot := *s.Lot
		out.Lot = &lot
	}
	out.Lots = cloneSlice(s.Lots)
	out.Bids = cloneSlice(s.Bids)
	out.Participants = cloneSlice(s.Participants)
	out.Teams = cloneSlice(s.Teams)
	for i := range out.Teams {
		out.Teams[i].Roster = cloneSlice(out.Teams[i].Roster)
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
