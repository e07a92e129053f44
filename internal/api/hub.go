package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/shruti8766/hype-hammer-sub001/internal/auction"
	"github.com/shruti8766/hype-hammer-sub001/internal/broadcast"
	"github.com/shruti8766/hype-hammer-sub001/internal/house"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection bound to a room. Outbound frames come
// from its broadcast.Channel; inbound frames are commands.
type Client struct {
	id      string
	server  *Server
	room    *house.Room
	who     auction.Participant
	conn    *websocket.Conn
	channel *broadcast.Channel
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	room, err := s.house.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	who, status, err := s.identify(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Client{
		id:      uuid.NewString(),
		server:  s,
		room:    room,
		who:     who,
		conn:    conn,
		channel: broadcast.NewChannel(who.ID, who.Role, s.channelBuffer),
		limiter: s.rateLimiter.NewConnLimiter(),
	}
	c.logger = log.With().Str("session_id", room.ID).Str("participant_id", who.ID).
		Str("role", string(who.Role)).Str("conn_id", c.id).Logger()

	// The snapshot is queued on the actor before any later event, so the
	// client starts from it with no gap and no duplicate.
	_, err = room.Session.Join(r.Context(), who, func(snap protocol.Snapshot) {
		room.Broadcaster.Attach(c.channel)
		room.Broadcaster.Send(c.channel, reply(room.ID, protocol.StateSnapshot{Snapshot: snap}))
	})
	if err != nil {
		room.Broadcaster.Detach(c.channel)
		c.logger.Info().Err(err).Msg("join rejected")
		c.writeClose(err)
		conn.Close()
		return
	}

	if s.metrics != nil {
		s.metrics.Connected()
	}
	c.logger.Info().Msg("participant connected")

	go c.WritePump()
	c.ReadPump()
}

// writeClose reports a failed join before the pumps start.
func (c *Client) writeClose(err error) {
	code := protocol.CodeOf(err)
	msg := reply(c.room.ID, protocol.CommandError{Code: code, Message: err.Error()})
	if data, encErr := json.Marshal(msg); encErr == nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.TextMessage, data)
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(code)),
		time.Now().Add(writeWait))
}

// WritePump moves frames from the channel to the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		ticker.Stop()
		cancel()
		c.conn.Close()
	}()

	frames := make(chan broadcast.Frame)
	go func() {
		defer close(frames)
		for {
			f, err := c.channel.Next(ctx)
			if err != nil {
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, f.Data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump decodes commands until the socket closes, then leaves the room.
func (c *Client) ReadPump() {
	defer c.disconnect()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(req, protocol.Invalid("", "malformed request: %v", err))
		return
	}
	if !c.limiter.Allow() {
		c.sendError(req, protocol.ErrRateLimited)
		return
	}
	cmd, err := protocol.DecodeCommand(req.Kind, req.Data)
	if err != nil {
		c.sendError(req, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.server.execute(ctx, c.room, c.who, cmd, c.channel)
	if err != nil {
		c.sendError(req, err)
		return
	}

	if res.Reply != nil {
		c.send(reply(c.room.ID, res.Reply))
		return
	}
	if req.Kind == protocol.CmdAck {
		return
	}
	ack := reply(c.room.ID, protocol.CommandAck{RequestID: req.ID, Command: req.Kind})
	ack.Revision = res.Outcome.Revision
	c.send(ack)
}

// sendError answers only this connection. Bid rejections get their own event
// so a team terminal can show the reason and the price that beat it.
func (c *Client) sendError(req protocol.Request, err error) {
	var br *protocol.BidRejected
	if errors.As(err, &br) {
		c.send(reply(c.room.ID, protocol.BidRejectedEvent{
			RequestID: req.ID,
			Reason:    br.Reason,
			Amount:    br.Amount,
			Current:   br.Current,
		}))
		return
	}
	code := protocol.CodeOf(err)
	if code == protocol.CodeInternal {
		c.logger.Error().Err(err).Str("command", string(req.Kind)).Msg("command failed")
	}
	c.send(reply(c.room.ID, protocol.CommandError{
		RequestID: req.ID,
		Command:   req.Kind,
		Code:      code,
		Message:   err.Error(),
	}))
}

func (c *Client) send(env protocol.Envelope) {
	if err := c.room.Broadcaster.Send(c.channel, env); err != nil {
		c.logger.Error().Err(err).Str("type", string(env.Type)).Msg("failed to queue reply")
	}
}

func (c *Client) disconnect() {
	c.room.Broadcaster.Detach(c.channel)
	c.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.room.Session.Leave(ctx, c.who.ID)
	if err != nil && !errors.Is(err, auction.ErrSessionClosed) {
		c.logger.Warn().Err(err).Msg("leave failed")
	}

	if c.server.metrics != nil {
		c.server.metrics.Disconnected()
	}
	c.logger.Info().Bool("offline", res.Offline).Uint64("dropped", c.channel.Dropped()).
		Uint64("last_acked", c.channel.LastAcked()).Msg("participant disconnected")
}
