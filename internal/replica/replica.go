// Package replica rebuilds a session's state from its event stream. Clients
// use it to stay in sync; the server uses it to check that the stream alone
// is enough to reproduce a snapshot.
package replica

import (
	"errors"
	"sort"
	"time"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

var (
	// ErrNoSnapshot means a committed event arrived before any snapshot.
	ErrNoSnapshot = errors.New("replica has no snapshot")
	// ErrGap means one or more committed events were missed; the caller
	// should request a fresh snapshot.
	ErrGap = errors.New("revision gap")
)

// Replica is a local copy of one session. It is not safe for concurrent use.
type Replica struct {
	snap protocol.Snapshot
	have bool
}

func New() *Replica { return &Replica{} }

// Revision is the last applied revision.
func (r *Replica) Revision() uint64 { return r.snap.Revision }

// Ready reports whether a snapshot has been applied.
func (r *Replica) Ready() bool { return r.have }

// Snapshot returns a copy of the current state.
func (r *Replica) Snapshot() protocol.Snapshot { return r.snap.Clone() }

// Apply folds one envelope into the replica. Replaying an envelope that was
// already applied is a no-op.
func (r *Replica) Apply(env protocol.Envelope) error {
	switch ev := env.Data.(type) {
	case protocol.StateSnapshot:
		if !r.have || ev.Revision > r.snap.Revision {
			r.snap = ev.Snapshot.Clone()
			r.have = true
		}
		return nil
	case protocol.TimerTick:
		if r.have && ev.LotID == r.snap.Session.CurrentLotID {
			r.snap.RemainingSeconds = ev.RemainingSeconds
		}
		return nil
	case protocol.BidHistory:
		if r.have {
			r.mergeHistory(ev)
		}
		return nil
	}
	if !env.Committed() {
		return nil
	}

	if !r.have {
		return ErrNoSnapshot
	}
	switch {
	case env.Revision <= r.snap.Revision:
		return nil
	case env.Revision > r.snap.Revision+1:
		return ErrGap
	}
	r.mirror(env)
	r.snap.Revision = env.Revision
	return nil
}

func (r *Replica) mirror(env protocol.Envelope) {
	s := &r.snap
	switch ev := env.Data.(type) {
	case protocol.SessionInitialized:
		s.Session.Status = ev.Status
		s.Session.BidWindowSeconds = ev.BidWindowSeconds
		s.Session.AuctioneerID = ev.AuctioneerID
		s.Teams = cloneTeams(ev.Teams)
		s.Lots = append([]protocol.LotView{}, ev.Lots...)

	case protocol.Join:
		r.setOnline(ev.ParticipantID, ev.Role, ev.TeamID, true)
		if ev.Team != nil {
			r.addTeam(*ev.Team)
		}

	case protocol.Leave:
		for i := range s.Participants {
			if s.Participants[i].ParticipantID == ev.ParticipantID {
				s.Participants[i].Online = false
			}
		}

	case protocol.StateTransition:
		s.Session.Status = ev.Status
		s.Session.LotDeadline = ev.LotDeadline

	case protocol.LotOpened:
		lv := r.lot(ev.LotID)
		if lv == nil {
			s.Lots = append(s.Lots, protocol.LotView{LotID: ev.LotID})
			lv = &s.Lots[len(s.Lots)-1]
		}
		lv.Name = ev.Name
		lv.BasePrice = ev.BasePrice
		lv.Status = protocol.LotInBidding
		s.Session.Phase = protocol.PhaseBiddingActive
		s.Session.CurrentLotID = ev.LotID
		s.Session.CurrentBidAmount = ev.BasePrice
		s.Session.LeadingParticipantID = ""
		s.Session.LotDeadline = ev.LotDeadline
		s.RemainingSeconds = s.Session.BidWindowSeconds
		s.Bids = []protocol.BidView{}
		r.syncLot()

	case protocol.BidAccepted:
		s.Bids = append(s.Bids, protocol.BidView{
			BidID:          ev.BidID,
			LotID:          ev.LotID,
			ParticipantID:  ev.ParticipantID,
			TeamID:         ev.TeamID,
			Amount:         ev.Amount,
			SequenceNumber: ev.SequenceNumber,
			AcceptedAt:     ev.AcceptedAt,
		})
		r.trimBids()
		s.Session.CurrentBidAmount = ev.Amount
		s.Session.LeadingParticipantID = ev.ParticipantID
		s.Session.LotDeadline = ev.LotDeadline
		s.RemainingSeconds = s.Session.BidWindowSeconds

	case protocol.LotClosed:
		if lv := r.lot(ev.LotID); lv != nil {
			if ev.Sold {
				lv.Status = protocol.LotSold
				lv.WinningParticipantID = ev.WinnerID
				lv.WinningTeamID = ev.TeamID
				lv.FinalAmount = ev.FinalAmount
			} else {
				lv.Status = protocol.LotUnsold
			}
		}
		if ev.Sold {
			for i := range s.Teams {
				if s.Teams[i].TeamID == ev.TeamID {
					s.Teams[i].RemainingBudget = ev.RemainingBudget
					s.Teams[i].Roster = append(s.Teams[i].Roster, ev.LotID)
				}
			}
		}
		s.Session.Phase = protocol.PhaseIdle
		s.Session.CurrentLotID = ""
		s.Session.CurrentBidAmount = 0
		s.Session.LeadingParticipantID = ""
		s.Session.LotDeadline = time.Time{}
		s.RemainingSeconds = 0
		s.Lot = nil
		s.Bids = []protocol.BidView{}

	case protocol.LotRequeued:
		if lv := r.lot(ev.LotID); lv != nil {
			lv.Status = protocol.LotPending
		}

	case protocol.TimerExtended:
		s.Session.LotDeadline = ev.LotDeadline
		s.RemainingSeconds += ev.Seconds

	case protocol.AuctioneerReplaced:
		s.Session.AuctioneerID = ev.ParticipantID

	case protocol.AudioMicOn:
		s.Audio = protocol.AudioView{BroadcasterID: ev.BroadcasterID, MicOn: true}

	case protocol.AudioMicOff:
		s.Audio = protocol.AudioView{}

	case protocol.AudioMuteChanged:
		s.Audio.Muted = ev.Muted
	}
}

func (r *Replica) lot(id string) *protocol.LotView {
	for i := range r.snap.Lots {
		if r.snap.Lots[i].LotID == id {
			return &r.snap.Lots[i]
		}
	}
	return nil
}

// syncLot refreshes the active lot pointer from the lot list.
func (r *Replica) syncLot() {
	if lv := r.lot(r.snap.Session.CurrentLotID); lv != nil {
		cp := *lv
		r.snap.Lot = &cp
		return
	}
	r.snap.Lot = nil
}

func (r *Replica) trimBids() {
	if w := r.snap.BidWindow; w > 0 && len(r.snap.Bids) > w {
		r.snap.Bids = append([]protocol.BidView{}, r.snap.Bids[len(r.snap.Bids)-w:]...)
	}
}

func (r *Replica) mergeHistory(h protocol.BidHistory) {
	if h.LotID != r.snap.Session.CurrentLotID {
		return
	}
	var last uint64
	if n := len(r.snap.Bids); n > 0 {
		last = r.snap.Bids[n-1].SequenceNumber
	}
	for _, b := range h.Bids {
		if b.SequenceNumber > last {
			r.snap.Bids = append(r.snap.Bids, b)
			last = b.SequenceNumber
		}
	}
	r.trimBids()
}

func (r *Replica) setOnline(id string, role protocol.Role, teamID string, online bool) {
	s := &r.snap
	for i := range s.Participants {
		if s.Participants[i].ParticipantID == id {
			s.Participants[i].Online = online
			return
		}
	}
	s.Participants = append(s.Participants, protocol.ParticipantView{
		ParticipantID: id,
		Role:          role,
		TeamID:        teamID,
		Online:        online,
	})
	sort.Slice(s.Participants, func(i, j int) bool {
		return s.Participants[i].ParticipantID < s.Participants[j].ParticipantID
	})
}

func (r *Replica) addTeam(t protocol.TeamView) {
	s := &r.snap
	for _, existing := range s.Teams {
		if existing.TeamID == t.TeamID {
			return
		}
	}
	t.Roster = append([]string{}, t.Roster...)
	s.Teams = append(s.Teams, t)
	sort.Slice(s.Teams, func(i, j int) bool { return s.Teams[i].TeamID < s.Teams[j].TeamID })
}

func cloneTeams(in []protocol.TeamView) []protocol.TeamView {
	out := make([]protocol.TeamView, len(in))
	for i, t := range in {
		t.Roster = append([]string{}, t.Roster...)
		out[i] = t
	}
	return out
}
