package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/auction"
	"github.com/shruti8766/hype-hammer-sub001/internal/house"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
	"github.com/shruti8766/hype-hammer-sub001/internal/store"
)

type ErrorResponse struct {
	Code    protocol.Code         `json:"code"`
	Message string                `json:"message"`
	Reason  protocol.RejectReason `json:"reason,omitempty"`
	Current int64                 `json:"current,omitempty"`
}

type CreateSessionRequest struct {
	ID         string                      `json:"id,omitempty"`
	Initialize *protocol.InitializeSession `json:"initialize,omitempty"`
}

type SessionResponse struct {
	SessionID string `json:"session_id"`
	Revision  uint64 `json:"revision"`
}

type CommandResponse struct {
	Command  protocol.CommandKind `json:"command"`
	Revision uint64               `json:"revision"`
	Bid      *protocol.BidView    `json:"bid,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// statusOf maps the error taxonomy onto HTTP.
func statusOf(err error) int {
	if errors.Is(err, auction.ErrSessionClosed) {
		return http.StatusGone
	}
	if errors.Is(err, house.ErrRoomExists) {
		return http.StatusConflict
	}
	switch protocol.CodeOf(err) {
	case protocol.CodeValidation:
		return http.StatusBadRequest
	case protocol.CodeForbidden:
		return http.StatusForbidden
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeBidRejected, protocol.CodeInvalidTransition, protocol.CodeAlreadyInitialized,
		protocol.CodeLotActive, protocol.CodeLotNotPending, protocol.CodeNoActiveLot:
		return http.StatusConflict
	case protocol.CodeConnection:
		return http.StatusServiceUnavailable
	case protocol.CodeNegotiation:
		return http.StatusBadGateway
	case protocol.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	resp := ErrorResponse{Code: protocol.CodeOf(err), Message: err.Error()}
	var br *protocol.BidRejected
	if errors.As(err, &br) {
		resp.Reason = br.Reason
		resp.Current = br.Current
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

func (s *Server) room(w http.ResponseWriter, r *http.Request) *house.Room {
	room, err := s.house.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil
	}
	return room
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "sessions": len(s.house.List())})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.house.List()})
}

// handleCreateSession opens a room, optionally initializing it in the same
// request on behalf of the caller.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	who, status, err := s.identify(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	if !who.Role.Privileged() {
		writeError(w, &protocol.AuthorizationError{Role: who.Role, Command: protocol.CmdInitialize})
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Initialize != nil {
		if err := req.Initialize.Validate(); err != nil {
			writeError(w, err)
			return
		}
	}

	room, err := s.house.Create(req.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := SessionResponse{SessionID: room.ID}
	if req.Initialize != nil {
		res, err := s.execute(r.Context(), room, who, *req.Initialize, nil)
		if err != nil {
			if derr := s.house.Discard(room.ID); derr != nil {
				log.Warn().Err(derr).Str("session_id", room.ID).Msg("failed to discard session")
			}
			writeError(w, err)
			return
		}
		resp.Revision = res.Outcome.Revision
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	who, status, err := s.identify(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	if who.Role != protocol.RoleAdmin {
		writeError(w, &protocol.AuthorizationError{Role: who.Role, Command: protocol.CmdEnd, Reason: "only an admin may remove a session"})
		return
	}
	if err := s.house.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommand runs one command over REST. The body is the command payload.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	room := s.room(w, r)
	if room == nil {
		return
	}
	who, status, err := s.identify(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	kind := protocol.CommandKind(chi.URLParam(r, "kind"))
	cmd, err := protocol.DecodeCommand(kind, body)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.execute(r.Context(), room, who, cmd, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Reply != nil {
		writeJSON(w, http.StatusOK, reply(room.ID, res.Reply))
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{Command: kind, Revision: res.Outcome.Revision, Bid: res.Outcome.Bid})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	room := s.room(w, r)
	if room == nil {
		return
	}
	snap, err := room.Session.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleBids serves a lot's bid history after ?since=N for the lot's latest
// round. Live rooms answer from memory; sessions no longer held fall back to
// the store.
func (s *Server) handleBids(w http.ResponseWriter, r *http.Request) {
	since, err := parseUint(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, protocol.Invalid("since", "must be a sequence number"))
		return
	}
	sessionID := chi.URLParam(r, "id")
	lotID := chi.URLParam(r, "lot")

	room, err := s.house.Get(sessionID)
	if err == nil {
		h, err := room.Session.History(r.Context(), lotID, since)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h)
		return
	}
	if s.store == nil {
		writeError(w, err)
		return
	}

	if _, err := s.store.GetLot(sessionID, lotID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, &protocol.NotFoundError{What: "lot", ID: lotID})
			return
		}
		writeError(w, err)
		return
	}
	records, err := s.store.ListBids(sessionID, lotID, since)
	if err != nil {
		writeError(w, err)
		return
	}
	h := protocol.BidHistory{LotID: lotID, SinceSequence: since, Bids: make([]protocol.BidView, 0, len(records))}
	for _, b := range records {
		h.Bids = append(h.Bids, protocol.BidView{
			BidID:          b.ID,
			LotID:          b.LotID,
			ParticipantID:  b.ParticipantID,
			TeamID:         b.TeamID,
			Amount:         b.Amount,
			SequenceNumber: b.Sequence,
			AcceptedAt:     b.AcceptedAt,
		})
	}
	writeJSON(w, http.StatusOK, h)
}

type AuditEntry struct {
	Revision uint64          `json:"revision"`
	Type     string          `json:"type"`
	At       string          `json:"at"`
	Data     json.RawMessage `json:"data"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "audit log requires a store", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	after, err := parseUint(q.Get("after"))
	if err != nil {
		writeError(w, protocol.Invalid("after", "must be a revision"))
		return
	}
	limit := 500
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 5000 {
			limit = n
		}
	}

	records, err := s.store.ListAudit(chi.URLParam(r, "id"), after, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]AuditEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, AuditEntry{
			Revision: rec.Revision,
			Type:     rec.Type,
			At:       rec.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Data:     json.RawMessage(rec.Payload),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	room := s.room(w, r)
	if room == nil {
		return
	}
	st, err := s.audioStatus(r.Context(), room)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseUint(v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
