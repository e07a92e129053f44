package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shruti8766/hype-hammer-sub001/internal/api"
	"github.com/shruti8766/hype-hammer-sub001/internal/house"
	"github.com/shruti8766/hype-hammer-sub001/internal/metrics"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
	"github.com/shruti8766/hype-hammer-sub001/internal/store"
)

// testEnv holds all the components needed for e2e testing
type testEnv struct {
	server *httptest.Server
	api    *api.Server
	house  *house.House
	store  *store.Store
}

func setupTestEnv(t *testing.T, opts api.Options) *testEnv {
	t.Helper()

	st, err := store.New(":memory:")
	require.NoError(t, err)

	m := metrics.New()
	h := house.New(house.DefaultConfig(), house.WithStore(st), house.WithMetrics(m))

	opts.Store = st
	opts.Metrics = m
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = 1000
		opts.RateBurst = 1000
	}
	srv := api.NewServer(h, opts)
	ts := httptest.NewServer(srv.Router())

	env := &testEnv{server: ts, api: srv, house: h, store: st}
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
		h.Close()
		st.Close()
	})
	return env
}

type identity struct {
	id, role, team, token string
}

var (
	admin     = identity{id: "admin", role: "ADMIN"}
	spectator = identity{id: "viewer", role: "SPECTATOR"}
)

func team(id, teamID string) identity {
	return identity{id: id, role: "TEAM", team: teamID}
}

// request makes a JSON request, optionally as a participant.
func (e *testEnv) request(t *testing.T, method, path string, who *identity, body interface{}) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set("X-Participant-ID", who.id)
		req.Header.Set("X-Participant-Role", who.role)
		if who.team != "" {
			req.Header.Set("X-Team-ID", who.team)
		}
		if who.token != "" {
			req.Header.Set("Authorization", "Bearer "+who.token)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) createSession(t *testing.T, id string, initialize *protocol.InitializeSession) {
	t.Helper()
	resp := e.request(t, "POST", "/api/sessions", &admin, api.CreateSessionRequest{ID: id, Initialize: initialize})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func (e *testEnv) command(t *testing.T, sid string, who identity, kind protocol.CommandKind, data interface{}) *http.Response {
	t.Helper()
	return e.request(t, "POST", "/api/sessions/"+sid+"/commands/"+string(kind), &who, data)
}

func defaultInit() *protocol.InitializeSession {
	return &protocol.InitializeSession{
		AuctioneerID: "host",
		Teams: []protocol.TeamSpec{
			{ID: "red", Budget: 1000},
			{ID: "blue", Budget: 1000},
		},
		Lots: []protocol.LotSpec{
			{ID: "lot-1", Name: "Opener", BasePrice: 100},
			{ID: "lot-2", Name: "Closer", BasePrice: 200},
		},
	}
}

// wsClient is a participant's websocket connection.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

func (e *testEnv) dial(t *testing.T, sid string, who identity) *wsClient {
	t.Helper()
	q := url.Values{}
	q.Set("participant_id", who.id)
	q.Set("role", who.role)
	if who.team != "" {
		q.Set("team_id", who.team)
	}
	if who.token != "" {
		q.Set("token", who.token)
	}
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/sessions/" + sid + "?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	c := &wsClient{t: t, conn: conn}
	t.Cleanup(func() { conn.Close() })
	return c
}

// send issues a command and returns its request id.
func (c *wsClient) send(kind protocol.CommandKind, data interface{}) string {
	c.t.Helper()
	c.seq++
	req := map[string]interface{}{"id": "r" + strconv.Itoa(c.seq), "kind": kind}
	if data != nil {
		req["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(req))
	return req["id"].(string)
}

// next reads until an envelope of the given type arrives.
func (c *wsClient) next(kind protocol.Kind) protocol.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", kind)
		var env protocol.Envelope
		require.NoError(c.t, json.Unmarshal(data, &env))
		if env.Type == kind {
			return env
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestEnv(t, api.Options{})

	resp := env.request(t, "GET", "/healthz", nil, nil)
	var health map[string]interface{}
	decode(t, resp, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	env.createSession(t, "s1", nil)

	resp = env.request(t, "GET", "/metrics", nil, nil)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "hammer_sessions 1")
}

func TestCreateSessionRequiresController(t *testing.T) {
	env := setupTestEnv(t, api.Options{})

	red := team("p1", "red")
	resp := env.request(t, "POST", "/api/sessions", &red, api.CreateSessionRequest{ID: "s1"})
	var apiErr api.ErrorResponse
	decode(t, resp, &apiErr)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, protocol.CodeForbidden, apiErr.Code)

	resp = env.request(t, "POST", "/api/sessions", nil, api.CreateSessionRequest{ID: "s1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "POST", "/api/sessions", &admin, api.CreateSessionRequest{ID: "s1", Initialize: defaultInit()})
	var created api.SessionResponse
	decode(t, resp, &created)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "s1", created.SessionID)
	assert.Greater(t, created.Revision, uint64(0))

	resp = env.request(t, "POST", "/api/sessions", &admin, api.CreateSessionRequest{ID: "s1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/sessions", nil, nil)
	var list map[string][]string
	decode(t, resp, &list)
	assert.Equal(t, []string{"s1"}, list["sessions"])
}

func TestCreateSessionRejectsInvalidInitialize(t *testing.T) {
	env := setupTestEnv(t, api.Options{})

	dup := defaultInit()
	dup.Teams = append(dup.Teams, protocol.TeamSpec{ID: "red", Budget: 5})
	resp := env.request(t, "POST", "/api/sessions", &admin, api.CreateSessionRequest{ID: "s1", Initialize: dup})
	var apiErr api.ErrorResponse
	decode(t, resp, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, protocol.CodeValidation, apiErr.Code)

	_, err := env.house.Get("s1")
	assert.Error(t, err, "a rejected initialize must not leave a room behind")
}

func TestJoinReceivesSnapshot(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	c := env.dial(t, "s1", team("p1", "red"))
	env0 := c.next(protocol.KindStateSnapshot)
	snap := env0.Data.(protocol.StateSnapshot)

	assert.Equal(t, "s1", snap.Session.SessionID)
	assert.Equal(t, protocol.StatusReady, snap.Session.Status)
	assert.Equal(t, "host", snap.Session.AuctioneerID)
	assert.Len(t, snap.Lots, 2)
	assert.Len(t, snap.Teams, 2)
	assert.Equal(t, snap.Revision, env0.Revision)

	var found bool
	for _, p := range snap.Participants {
		if p.ParticipantID == "p1" {
			found = true
			assert.True(t, p.Online)
			assert.Equal(t, "red", p.TeamID)
		}
	}
	assert.True(t, found, "the joining participant is part of its own snapshot")
}

func TestJoinUnknownSession(t *testing.T) {
	env := setupTestEnv(t, api.Options{})

	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/sessions/missing?participant_id=p1&role=TEAM"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinUnknownTeamIsRejected(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	c := env.dial(t, "s1", team("p1", "green"))
	ev := c.next(protocol.KindCommandError)
	assert.Equal(t, protocol.CodeValidation, ev.Data.(protocol.CommandError).Code)
}

func TestBidFlowBroadcast(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	host := env.dial(t, "s1", identity{id: "host", role: "AUCTIONEER"})
	red := env.dial(t, "s1", team("p-red", "red"))
	blue := env.dial(t, "s1", team("p-blue", "blue"))
	watcher := env.dial(t, "s1", spectator)
	for _, c := range []*wsClient{host, red, blue, watcher} {
		c.next(protocol.KindStateSnapshot)
	}

	host.send(protocol.CmdStart, nil)
	host.next(protocol.KindCommandAck)

	host.send(protocol.CmdOpenLot, protocol.OpenLot{LotID: "lot-1"})
	opened := watcher.next(protocol.KindLotOpened).Data.(protocol.LotOpened)
	assert.Equal(t, "lot-1", opened.LotID)
	assert.Equal(t, int64(100), opened.BasePrice)
	assert.False(t, opened.LotDeadline.IsZero())

	reqID := red.send(protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 150})
	accepted := red.next(protocol.KindBidAccepted)
	ack := red.next(protocol.KindCommandAck)
	assert.Equal(t, reqID, ack.Data.(protocol.CommandAck).RequestID)
	assert.Equal(t, accepted.Revision, ack.Revision)

	for _, c := range []*wsClient{host, blue, watcher} {
		bid := c.next(protocol.KindBidAccepted).Data.(protocol.BidAccepted)
		assert.Equal(t, "p-red", bid.ParticipantID)
		assert.Equal(t, "red", bid.TeamID)
		assert.Equal(t, int64(150), bid.Amount)
		assert.Equal(t, uint64(1), bid.SequenceNumber)
	}

	// An equal amount loses to the bid already accepted.
	reqID = blue.send(protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 150})
	rejected := blue.next(protocol.KindBidRejected).Data.(protocol.BidRejectedEvent)
	assert.Equal(t, reqID, rejected.RequestID)
	assert.Equal(t, protocol.BelowCurrent, rejected.Reason)
	assert.Equal(t, int64(150), rejected.Current)

	// Over budget.
	blue.send(protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 5000})
	rejected = blue.next(protocol.KindBidRejected).Data.(protocol.BidRejectedEvent)
	assert.Equal(t, protocol.InsufficientBudget, rejected.Reason)

	host.send(protocol.CmdCloseLot, protocol.CloseLot{Sold: true})
	for _, c := range []*wsClient{red, blue, watcher} {
		closed := c.next(protocol.KindLotClosed).Data.(protocol.LotClosed)
		assert.True(t, closed.Sold)
		assert.Equal(t, "p-red", closed.WinnerID)
		assert.Equal(t, "red", closed.TeamID)
		assert.Equal(t, int64(150), closed.FinalAmount)
		assert.Equal(t, int64(850), closed.RemainingBudget)
	}

	host.send(protocol.CmdOpenLot, protocol.OpenLot{LotID: "lot-2"})
	assert.Equal(t, "lot-2", watcher.next(protocol.KindLotOpened).Data.(protocol.LotOpened).LotID)
}

func TestForbiddenCommandOverWebSocket(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	c := env.dial(t, "s1", spectator)
	c.next(protocol.KindStateSnapshot)

	reqID := c.send(protocol.CmdStart, nil)
	ev := c.next(protocol.KindCommandError).Data.(protocol.CommandError)
	assert.Equal(t, reqID, ev.RequestID)
	assert.Equal(t, protocol.CmdStart, ev.Command)
	assert.Equal(t, protocol.CodeForbidden, ev.Code)

	c.send("teleport", nil)
	ev = c.next(protocol.KindCommandError).Data.(protocol.CommandError)
	assert.Equal(t, protocol.CodeValidation, ev.Code)
}

func TestNonDesignatedAuctioneerIsForbidden(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	imposter := identity{id: "someone-else", role: "AUCTIONEER"}
	resp := env.command(t, "s1", imposter, protocol.CmdStart, nil)
	var apiErr api.ErrorResponse
	decode(t, resp, &apiErr)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, protocol.CodeForbidden, apiErr.Code)
}

func TestRESTCommands(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	resp := env.command(t, "s1", admin, protocol.CmdStart, nil)
	var out api.CommandResponse
	decode(t, resp, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, protocol.CmdStart, out.Command)
	first := out.Revision

	resp = env.command(t, "s1", admin, protocol.CmdStart, nil)
	var apiErr api.ErrorResponse
	decode(t, resp, &apiErr)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, protocol.CodeInvalidTransition, apiErr.Code)

	resp = env.command(t, "s1", admin, protocol.CmdOpenLot, protocol.OpenLot{LotID: "lot-1"})
	decode(t, resp, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Greater(t, out.Revision, first)

	// Bidding over REST needs a joined team participant.
	red := env.dial(t, "s1", team("p-red", "red"))
	red.next(protocol.KindStateSnapshot)

	resp = env.command(t, "s1", team("p-red", "red"), protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 120})
	decode(t, resp, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, out.Bid)
	assert.Equal(t, int64(120), out.Bid.Amount)
	assert.Equal(t, uint64(1), out.Bid.SequenceNumber)

	resp = env.command(t, "s1", team("p-red", "red"), protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 110})
	decode(t, resp, &apiErr)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, protocol.CodeBidRejected, apiErr.Code)
	assert.Equal(t, protocol.BelowCurrent, apiErr.Reason)
	assert.Equal(t, int64(120), apiErr.Current)

	resp = env.command(t, "s1", team("stranger", "blue"), protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 500})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.command(t, "s1", admin, protocol.CmdSubmitBid, protocol.SubmitBid{Amount: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/sessions/s1/snapshot", nil, nil)
	var snap protocol.Snapshot
	decode(t, resp, &snap)
	assert.Equal(t, protocol.StatusLive, snap.Session.Status)
	assert.Equal(t, protocol.PhaseBiddingActive, snap.Session.Phase)
	assert.Equal(t, "lot-1", snap.Session.CurrentLotID)
	assert.Equal(t, int64(120), snap.Session.CurrentBidAmount)
	assert.Equal(t, "p-red", snap.Session.LeadingParticipantID)
	require.Len(t, snap.Bids, 1)

	resp = env.command(t, "missing", admin, protocol.CmdStart, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestPauseRejectsBids(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	red := env.dial(t, "s1", team("p-red", "red"))
	red.next(protocol.KindStateSnapshot)

	for _, step := range []struct {
		kind protocol.CommandKind
		data interface{}
	}{
		{protocol.CmdStart, nil},
		{protocol.CmdOpenLot, protocol.OpenLot{LotID: "lot-1"}},
		{protocol.CmdPause, nil},
	} {
		resp := env.command(t, "s1", admin, step.kind, step.data)
		require.Equal(t, http.StatusOK, resp.StatusCode, step.kind)
		resp.Body.Close()
	}

	red.next(protocol.KindStateTransition)
	red.send(protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 300})
	rejected := red.next(protocol.KindBidRejected).Data.(protocol.BidRejectedEvent)
	assert.Equal(t, protocol.AuctionPaused, rejected.Reason)

	resp := env.command(t, "s1", admin, protocol.CmdResume, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	red.send(protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 300})
	assert.Equal(t, int64(300), red.next(protocol.KindBidAccepted).Data.(protocol.BidAccepted).Amount)
}

func TestResync(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	red := env.dial(t, "s1", team("p-red", "red"))
	red.next(protocol.KindStateSnapshot)

	// Nothing is open yet, so a delta falls back to a snapshot.
	red.send(protocol.CmdResync, protocol.Resync{})
	red.next(protocol.KindStateSnapshot)

	for _, kind := range []protocol.CommandKind{protocol.CmdStart, protocol.CmdOpenLot} {
		var data interface{}
		if kind == protocol.CmdOpenLot {
			data = protocol.OpenLot{LotID: "lot-1"}
		}
		resp := env.command(t, "s1", admin, kind, data)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	for _, amount := range []int64{110, 120, 130} {
		red.send(protocol.CmdSubmitBid, protocol.SubmitBid{Amount: amount})
		red.next(protocol.KindCommandAck)
	}

	red.send(protocol.CmdResync, protocol.Resync{LotID: "lot-1", SinceSequence: 1})
	h := red.next(protocol.KindBidHistory).Data.(protocol.BidHistory)
	assert.Equal(t, "lot-1", h.LotID)
	require.Len(t, h.Bids, 2)
	assert.Equal(t, uint64(2), h.Bids[0].SequenceNumber)
	assert.Equal(t, int64(130), h.Bids[1].Amount)

	red.send(protocol.CmdResync, protocol.Resync{Full: true})
	snap := red.next(protocol.KindStateSnapshot).Data.(protocol.StateSnapshot)
	assert.Equal(t, int64(130), snap.Session.CurrentBidAmount)

	resp := env.request(t, "GET", "/api/sessions/s1/lots/lot-1/bids?since=2", nil, nil)
	var rest protocol.BidHistory
	decode(t, resp, &rest)
	require.Len(t, rest.Bids, 1)
	assert.Equal(t, uint64(3), rest.Bids[0].SequenceNumber)

	resp = env.request(t, "GET", "/api/sessions/s1/lots/lot-1/bids?since=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestBidsAndAuditOutliveTheRoom(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	red := env.dial(t, "s1", team("p-red", "red"))
	red.next(protocol.KindStateSnapshot)
	for _, step := range []struct {
		kind protocol.CommandKind
		data interface{}
	}{
		{protocol.CmdStart, nil},
		{protocol.CmdOpenLot, protocol.OpenLot{LotID: "lot-1"}},
	} {
		resp := env.command(t, "s1", admin, step.kind, step.data)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	red.send(protocol.CmdSubmitBid, protocol.SubmitBid{Amount: 400})
	red.next(protocol.KindCommandAck)

	require.Eventually(t, func() bool {
		bids, err := env.store.ListBids("s1", "lot-1", 0)
		return err == nil && len(bids) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp := env.request(t, "GET", "/api/sessions/s1/audit", nil, nil)
	var audit []api.AuditEntry
	decode(t, resp, &audit)
	require.NotEmpty(t, audit)
	assert.Equal(t, string(protocol.KindSessionInitialized), audit[0].Type)
	for i := 1; i < len(audit); i++ {
		assert.Equal(t, audit[i-1].Revision+1, audit[i].Revision)
	}

	resp = env.request(t, "DELETE", "/api/sessions/s1", &admin, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/sessions/s1/lots/lot-1/bids", nil, nil)
	var h protocol.BidHistory
	decode(t, resp, &h)
	require.Len(t, h.Bids, 1)
	assert.Equal(t, int64(400), h.Bids[0].Amount)
	assert.Equal(t, "red", h.Bids[0].TeamID)

	resp = env.request(t, "GET", "/api/sessions/s1/lots/nope/bids", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteSession(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	host := identity{id: "host", role: "AUCTIONEER"}
	resp := env.request(t, "DELETE", "/api/sessions/s1", &host, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "DELETE", "/api/sessions/s1", &admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/sessions/s1/snapshot", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAudioStatusEndpoint(t *testing.T) {
	env := setupTestEnv(t, api.Options{})
	env.createSession(t, "s1", defaultInit())

	resp := env.request(t, "GET", "/api/sessions/s1/audio", nil, nil)
	var st protocol.AudioStatus
	decode(t, resp, &st)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, st.Streaming)
	assert.False(t, st.Muted)
}

func TestAuthRequired(t *testing.T) {
	env := setupTestEnv(t, api.Options{AuthRequired: true})
	_, err := env.store.CreateOperator("root", "ADMIN", "correct-horse")
	require.NoError(t, err)

	resp := env.request(t, "POST", "/api/sessions", &admin, api.CreateSessionRequest{ID: "s1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "POST", "/api/console/login", nil, api.LoginRequest{Name: "root", Key: "wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "POST", "/api/console/login", nil, api.LoginRequest{Name: "root", Key: "correct-horse"})
	var login api.LoginResponse
	decode(t, resp, &login)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, "ADMIN", login.Role)

	root := identity{id: "ignored", role: "ADMIN", token: login.Token}
	resp = env.request(t, "POST", "/api/sessions", &root, api.CreateSessionRequest{ID: "s1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// An admin token may drive the auction as auctioneer; the id comes from
	// the token, not the request.
	host := env.dial(t, "s1", identity{id: "someone", role: "AUCTIONEER", token: login.Token})
	snap := host.next(protocol.KindStateSnapshot).Data.(protocol.StateSnapshot)
	var names []string
	for _, p := range snap.Participants {
		names = append(names, p.ParticipantID)
	}
	assert.Contains(t, names, "root")
	assert.NotContains(t, names, "someone")

	// Teams never need a token.
	red := env.dial(t, "s1", team("p-red", "red"))
	red.next(protocol.KindStateSnapshot)

	resp = env.request(t, "POST", "/api/console/operators", &root,
		api.OperatorRequest{Name: "host", Role: "AUCTIONEER", Key: "gavel-gavel"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "POST", "/api/console/logout", &root, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "POST", "/api/sessions", &root, api.CreateSessionRequest{ID: "s2"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := api.NewRateLimiter(1, 2)
	defer rl.Stop()

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/sessions", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sessions", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per client")
}
