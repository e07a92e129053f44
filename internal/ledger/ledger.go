package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotIncreasing = errors.New("bid does not exceed the last accepted amount")

// Bid is an accepted bid. Rejected attempts are never recorded.
type Bid struct {
	ID            string    `json:"id"`
	LotID         string    `json:"lot_id"`
	ParticipantID string    `json:"participant_id"`
	TeamID        string    `json:"team_id"`
	Amount        int64     `json:"amount"`
	Sequence      uint64    `json:"sequence"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// Ledger is the append-only bid log for one lot. Sequence numbers start at
// 1 and have no gaps.
type Ledger struct {
	LotID string

	mu   sync.RWMutex
	bids []Bid
}

func New(lotID string) *Ledger {
	return &Ledger{
		LotID: lotID,
		bids:  make([]Bid, 0, 16),
	}
}

// Append records an accepted bid and returns it with its sequence number.
func (l *Ledger) Append(participantID, teamID string, amount int64, at time.Time) (Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.bids); n > 0 && amount <= l.bids[n-1].Amount {
		return Bid{}, ErrNotIncreasing
	}

	bid := Bid{
		ID:            uuid.New().String(),
		LotID:         l.LotID,
		ParticipantID: participantID,
		TeamID:        teamID,
		Amount:        amount,
		Sequence:      uint64(len(l.bids)) + 1,
		AcceptedAt:    at,
	}
	l.bids = append(l.bids, bid)
	return bid, nil
}

// Last returns the highest accepted bid.
func (l *Ledger) Last() (Bid, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.bids) == 0 {
		return Bid{}, false
	}
	return l.bids[len(l.bids)-1], true
}

// LastSequence is 0 for an empty ledger.
func (l *Ledger) LastSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.bids))
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.bids)
}

// Since returns the bids with sequence greater than seq, oldest first.
func (l *Ledger) Since(seq uint64) []Bid {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= uint64(len(l.bids)) {
		return []Bid{}
	}
	out := make([]Bid, len(l.bids)-int(seq))
	copy(out, l.bids[seq:])
	return out
}

// Tail returns up to n most recent bids, oldest first.
func (l *Ledger) Tail(n int) []Bid {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return []Bid{}
	}
	start := len(l.bids) - n
	if start < 0 {
		start = 0
	}
	out := make([]Bid, len(l.bids)-start)
	copy(out, l.bids[start:])
	return out
}
