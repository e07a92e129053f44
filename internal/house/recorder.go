package house

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
	"github.com/shruti8766/hype-hammer-sub001/internal/store"
)

// Recorder persists a session's committed events: the audit log, bids,
// settlements and lot and team state. Writes happen on its own goroutine in
// revision order so the session never waits on the database.
type Recorder struct {
	store *store.Store

	queue chan protocol.Envelope
	wg    sync.WaitGroup
	once  sync.Once
}

func NewRecorder(st *store.Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 4096
	}
	r := &Recorder{store: st, queue: make(chan protocol.Envelope, buffer)}
	r.wg.Add(1)
	go r.run()
	return r
}

// Observe queues a committed event. Unlike the bus mirror it never drops:
// when the queue is full it waits for the writer.
func (r *Recorder) Observe(env protocol.Envelope) {
	if !env.Committed() {
		return
	}
	r.queue <- env
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for env := range r.queue {
		r.record(env)
	}
}

// Close writes the backlog and stops the worker. The session must be closed
// first so nothing else is observed.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.queue) })
	r.wg.Wait()
}

func (r *Recorder) record(env protocol.Envelope) {
	sid := env.SessionID
	logger := log.With().Str("session_id", sid).Uint64("revision", env.Revision).Str("type", string(env.Type)).Logger()

	if err := r.apply(env); err != nil {
		logger.Error().Err(err).Msg("failed to persist event")
	}

	payload, err := json.Marshal(env.Data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode audit payload")
		return
	}
	if err := r.store.AppendAudit(sid, env.Revision, string(env.Type), string(payload), env.At); err != nil {
		logger.Error().Err(err).Msg("failed to append audit record")
	}
}

func (r *Recorder) apply(env protocol.Envelope) error {
	sid := env.SessionID
	switch ev := env.Data.(type) {
	case protocol.SessionInitialized:
		if err := r.store.ConfigureSession(sid, ev.Status, ev.BidWindowSeconds, ev.AuctioneerID); err != nil {
			return err
		}
		for _, t := range ev.Teams {
			if err := r.store.UpsertTeam(teamRecord(sid, t)); err != nil {
				return err
			}
		}
		for _, l := range ev.Lots {
			if err := r.store.UpsertLot(store.LotRecord{SessionID: sid, ID: l.LotID, Name: l.Name, BasePrice: l.BasePrice}); err != nil {
				return err
			}
		}

	case protocol.Join:
		if ev.Team != nil {
			return r.store.UpsertTeam(teamRecord(sid, *ev.Team))
		}

	case protocol.StateTransition:
		return r.store.UpdateSessionStatus(sid, ev.Status)

	case protocol.LotOpened:
		return r.store.OpenLot(sid, ev.LotID, ev.Name, ev.BasePrice)

	case protocol.BidAccepted:
		return r.store.InsertBid(store.BidRecord{
			ID:            ev.BidID,
			SessionID:     sid,
			LotID:         ev.LotID,
			ParticipantID: ev.ParticipantID,
			TeamID:        ev.TeamID,
			Amount:        ev.Amount,
			Sequence:      ev.SequenceNumber,
			AcceptedAt:    ev.AcceptedAt,
		})

	case protocol.LotClosed:
		if !ev.Sold {
			return r.store.SetLotStatus(sid, ev.LotID, protocol.LotUnsold)
		}
		_, err := r.store.SettleLot(store.Settlement{
			SessionID:     sid,
			LotID:         ev.LotID,
			TeamID:        ev.TeamID,
			ParticipantID: ev.WinnerID,
			Amount:        ev.FinalAmount,
			SettledAt:     env.At,
		})
		if errors.Is(err, store.ErrAlreadySettled) {
			return nil
		}
		return err

	case protocol.LotRequeued:
		return r.store.SetLotStatus(sid, ev.LotID, protocol.LotPending)

	case protocol.AuctioneerReplaced:
		return r.store.SetAuctioneer(sid, ev.ParticipantID)
	}
	return nil
}

func teamRecord(sessionID string, t protocol.TeamView) store.TeamRecord {
	return store.TeamRecord{
		SessionID: sessionID,
		ID:        t.TeamID,
		Name:      t.Name,
		Budget:    t.Budget,
		Remaining: t.RemainingBudget,
	}
}
