package auction

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

// Status is the top-level session state.
type Status int

const (
	StatusNew    Status = iota // Created, waiting for initializeSession
	StatusReady                // Initialized, not yet started
	StatusLive                 // Lots may be opened and bid on
	StatusPaused               // Timer frozen, bids rejected
	StatusEnded                // Terminal
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return protocol.StatusNew
	case StatusReady:
		return protocol.StatusReady
	case StatusLive:
		return protocol.StatusLive
	case StatusPaused:
		return protocol.StatusPaused
	case StatusEnded:
		return protocol.StatusEnded
	default:
		return "UNKNOWN"
	}
}

// Phase is the per-lot sub-state while the session is live. Settlement
// happens inside a single actor step, so it never shows up as a phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBiddingActive
)

func (p Phase) String() string {
	if p == PhaseBiddingActive {
		return protocol.PhaseBiddingActive
	}
	return protocol.PhaseIdle
}

type LotStatus int

const (
	LotPending LotStatus = iota
	LotInBidding
	LotSold
	LotUnsold
)

func (s LotStatus) String() string {
	switch s {
	case LotPending:
		return protocol.LotPending
	case LotInBidding:
		return protocol.LotInBidding
	case LotSold:
		return protocol.LotSold
	case LotUnsold:
		return protocol.LotUnsold
	default:
		return "UNKNOWN"
	}
}

// Lot is a player or item on offer.
type Lot struct {
	ID           string
	Name         string
	BasePrice    int64
	Status       LotStatus
	WinnerID     string
	WinnerTeamID string
	FinalAmount  int64
}

// Team holds the budget shared by every TEAM participant bound to it.
type Team struct {
	ID        string
	Name      string
	Budget    int64
	Remaining int64
	Roster    []string // lot ids won
}

// Participant is a joined identity. The record outlives its connections so a
// leader that disconnects can still be settled.
type Participant struct {
	ID     string
	Role   protocol.Role
	TeamID string

	conns int
}

// Caller identifies who issued a command.
type Caller struct {
	ParticipantID string
	Role          protocol.Role
}

// Config tunes a session.
type Config struct {
	BidWindow      time.Duration   // Full countdown, restored on every accepted bid
	TickInterval   time.Duration   // TIMER_TICK cadence
	SnapshotWindow int             // Trailing bids included in snapshots
	DefaultBudget  int64           // Budget for teams created without one
	Clock          clockwork.Clock // Real clock unless a test injects a fake
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BidWindow:      30 * time.Second,
		TickInterval:   time.Second,
		SnapshotWindow: 20,
		DefaultBudget:  100000000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BidWindow <= 0 {
		c.BidWindow = d.BidWindow
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.SnapshotWindow <= 0 {
		c.SnapshotWindow = d.SnapshotWindow
	}
	if c.DefaultBudget <= 0 {
		c.DefaultBudget = d.DefaultBudget
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// Outcome is the synchronous result of a committed command.
type Outcome struct {
	Revision uint64
	Bid      *protocol.BidView
}
