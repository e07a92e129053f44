package auction

import (
	"sort"
	"time"

	"github.com/shruti8766/hype-hammer-sub001/internal/ledger"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

// snapshot reads every part of the room at the current revision. It runs on
// the actor, so no partial transition is visible.
func (m *machine) snapshot() protocol.Snapshot {
	snap := protocol.Snapshot{
		Revision: m.revision,
		Session: protocol.SessionView{
			SessionID:            m.id,
			Status:               m.status.String(),
			Phase:                m.phase.String(),
			CurrentLotID:         m.currentLot,
			CurrentBidAmount:     m.currentBid,
			LeadingParticipantID: m.leader,
			LotDeadline:          m.timer.Deadline(),
			AuctioneerID:         m.auctioneerID,
			BidWindowSeconds:     int(m.timer.Window() / time.Second),
		},
		Lots:             m.lotViews(),
		Bids:             []protocol.BidView{},
		BidWindow:        m.cfg.SnapshotWindow,
		Teams:            m.teamViews(),
		Participants:     m.participantViews(),
		Audio:            m.audio,
		RemainingSeconds: m.timer.RemainingSeconds(),
		ServerTime:       m.clock.Now(),
	}
	if m.currentLot != "" {
		lv := lotView(m.lots[m.currentLot])
		snap.Lot = &lv
		for _, b := range m.ledgers[m.currentLot].Tail(m.cfg.SnapshotWindow) {
			snap.Bids = append(snap.Bids, bidView(b))
		}
	}
	return snap
}

// history returns bids after since for a lot, defaulting to the active lot.
func (m *machine) history(lotID string, since uint64) (protocol.BidHistory, error) {
	if lotID == "" {
		lotID = m.currentLot
	}
	if lotID == "" {
		return protocol.BidHistory{}, protocol.Conflict(protocol.CodeNoActiveLot, "no lot is open for bidding")
	}
	if _, ok := m.lots[lotID]; !ok {
		return protocol.BidHistory{}, &protocol.NotFoundError{What: "lot", ID: lotID}
	}
	out := protocol.BidHistory{LotID: lotID, SinceSequence: since, Bids: []protocol.BidView{}}
	if led, ok := m.ledgers[lotID]; ok {
		for _, b := range led.Since(since) {
			out.Bids = append(out.Bids, bidView(b))
		}
	}
	return out, nil
}

func (m *machine) lotViews() []protocol.LotView {
	out := make([]protocol.LotView, 0, len(m.lotOrder))
	for _, id := range m.lotOrder {
		out = append(out, lotView(m.lots[id]))
	}
	return out
}

func (m *machine) teamViews() []protocol.TeamView {
	out := make([]protocol.TeamView, 0, len(m.teams))
	for _, t := range m.teams {
		out = append(out, protocol.TeamView{
			TeamID:          t.ID,
			Name:            t.Name,
			Budget:          t.Budget,
			RemainingBudget: t.Remaining,
			Roster:          append([]string{}, t.Roster...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out
}

func (m *machine) participantViews() []protocol.ParticipantView {
	out := make([]protocol.ParticipantView, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, protocol.ParticipantView{
			ParticipantID: p.ID,
			Role:          p.Role,
			TeamID:        p.TeamID,
			Online:        p.conns > 0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

func lotView(l *Lot) protocol.LotView {
	return protocol.LotView{
		LotID:                l.ID,
		Name:                 l.Name,
		BasePrice:            l.BasePrice,
		Status:               l.Status.String(),
		WinningParticipantID: l.WinnerID,
		WinningTeamID:        l.WinnerTeamID,
		FinalAmount:          l.FinalAmount,
	}
}

func bidView(b ledger.Bid) protocol.BidView {
	return protocol.BidView{
		BidID:          b.ID,
		LotID:          b.LotID,
		ParticipantID:  b.ParticipantID,
		TeamID:         b.TeamID,
		Amount:         b.Amount,
		SequenceNumber: b.Sequence,
		AcceptedAt:     b.AcceptedAt,
	}
}
