package api

import (
	"context"
	"errors"
	"time"

	"github.com/shruti8766/hype-hammer-sub001/internal/auction"
	"github.com/shruti8766/hype-hammer-sub001/internal/broadcast"
	"github.com/shruti8766/hype-hammer-sub001/internal/house"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

// result is what one command produced for its caller. Reply is set for
// queries; session commands only carry an outcome.
type result struct {
	Outcome auction.Outcome
	Reply   protocol.Event
}

// execute authorizes a command at the edge and routes it. Session commands
// go to the room's actor; audio negotiation goes to the relay; resync and ack
// are answered here. ch is nil for REST callers.
func (s *Server) execute(ctx context.Context, room *house.Room, p auction.Participant, cmd protocol.Command, ch *broadcast.Channel) (result, error) {
	if err := protocol.Authorize(p.Role, cmd); err != nil {
		return result{}, err
	}

	switch c := cmd.(type) {
	case protocol.AudioListen:
		return result{}, room.Audio.Listen(p.ID)

	case protocol.AudioLeave:
		if room.Audio.Status().BroadcasterID == p.ID {
			return result{}, protocol.Invalid("kind", "the broadcaster stops with audioStop")
		}
		room.Audio.Leave(p.ID)
		return result{}, nil

	case protocol.AudioSignal:
		return result{}, room.Audio.Signal(p.ID, c)

	case protocol.AudioStatusQuery:
		st, err := s.audioStatus(ctx, room)
		return result{Reply: st}, err

	case protocol.Resync:
		ev, err := s.resync(ctx, room, c)
		return result{Reply: ev}, err

	case protocol.Ack:
		if ch != nil {
			ch.Ack(c.Revision)
		}
		return result{}, nil
	}

	out, err := room.Session.Do(ctx, auction.Caller{ParticipantID: p.ID, Role: p.Role}, cmd)
	var br *protocol.BidRejected
	if errors.As(err, &br) && s.metrics != nil {
		s.metrics.BidRejected(br.Reason)
	}
	return result{Outcome: out}, err
}

// audioStatus combines the relay's paths with the mute flag the session owns.
func (s *Server) audioStatus(ctx context.Context, room *house.Room) (protocol.AudioStatus, error) {
	snap, err := room.Session.Snapshot(ctx)
	if err != nil {
		return protocol.AudioStatus{}, err
	}
	st := room.Audio.Status()
	st.Muted = snap.Audio.Muted
	return st, nil
}

// resync answers with a bid delta when one is possible, else a full snapshot.
func (s *Server) resync(ctx context.Context, room *house.Room, c protocol.Resync) (protocol.Event, error) {
	if !c.Full {
		h, err := room.Session.History(ctx, c.LotID, c.SinceSequence)
		if err == nil {
			return h, nil
		}
		switch protocol.CodeOf(err) {
		case protocol.CodeNoActiveLot, protocol.CodeNotFound:
		default:
			return nil, err
		}
	}
	snap, err := room.Session.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.StateSnapshot{Snapshot: snap}, nil
}

// reply wraps a direct reply. Snapshots carry their revision so a client
// can tell which events they already cover.
func reply(sessionID string, ev protocol.Event) protocol.Envelope {
	env := protocol.Wrap(sessionID, time.Now().UTC(), ev)
	if snap, ok := ev.(protocol.StateSnapshot); ok {
		env.Revision = snap.Revision
	}
	return env
}
