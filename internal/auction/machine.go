package auction

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/ledger"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
	"github.com/shruti8766/hype-hammer-sub001/internal/timer"
)

// machine is the authoritative session state. Only the session actor
// touches it, so it holds no locks.
type machine struct {
	id    string
	cfg   Config
	clock clockwork.Clock
	timer *timer.Engine

	status           Status
	phase            Phase
	revision         uint64
	auctioneerID     string
	endWhenExhausted bool

	lots         map[string]*Lot
	lotOrder     []string
	teams        map[string]*Team
	teamsFixed   bool
	participants map[string]*Participant
	ledgers      map[string]*ledger.Ledger

	currentLot string
	currentBid int64
	leader     string

	audio protocol.AudioView

	outbox []protocol.Envelope
}

func newMachine(id string, cfg Config, onExpire func(gen uint64)) *machine {
	return &machine{
		id:           id,
		cfg:          cfg,
		clock:        cfg.Clock,
		timer:        timer.New(cfg.Clock, cfg.BidWindow, onExpire),
		lots:         make(map[string]*Lot),
		teams:        make(map[string]*Team),
		participants: make(map[string]*Participant),
		ledgers:      make(map[string]*ledger.Ledger),
	}
}

// emit commits an event at the next revision.
func (m *machine) emit(ev protocol.Event) {
	m.revision++
	m.outbox = append(m.outbox, protocol.Envelope{
		Type:      ev.EventKind(),
		Revision:  m.revision,
		SessionID: m.id,
		At:        m.clock.Now(),
		Data:      ev,
	})
}

// emitVolatile queues an event that does not change state, stamped with the
// current revision.
func (m *machine) emitVolatile(ev protocol.Event) {
	m.outbox = append(m.outbox, protocol.Envelope{
		Type:      ev.EventKind(),
		Revision:  m.revision,
		SessionID: m.id,
		At:        m.clock.Now(),
		Data:      ev,
	})
}

func (m *machine) drain() []protocol.Envelope {
	out := m.outbox
	m.outbox = nil
	return out
}

// apply runs one command. Edge authorization has already happened; the
// check is repeated so a bypass is rejected and logged rather than applied.
func (m *machine) apply(caller Caller, cmd protocol.Command) (Outcome, error) {
	if err := protocol.Authorize(caller.Role, cmd); err != nil {
		log.Warn().Str("session_id", m.id).Str("participant_id", caller.ParticipantID).
			Str("command", string(cmd.Kind())).Msg("unauthorized command reached session")
		return Outcome{}, err
	}
	if err := cmd.Validate(); err != nil {
		return Outcome{}, err
	}

	var err error
	switch c := cmd.(type) {
	case protocol.InitializeSession:
		err = m.initialize(caller, c)
	case protocol.Start:
		err = m.start(caller)
	case protocol.Pause:
		err = m.pause(caller)
	case protocol.Resume:
		err = m.resume(caller)
	case protocol.End:
		err = m.end(caller)
	case protocol.OpenLot:
		err = m.openLot(caller, c)
	case protocol.SubmitBid:
		bid, bidErr := m.submitBid(caller, c)
		if bidErr != nil {
			return Outcome{}, bidErr
		}
		return Outcome{Revision: m.revision, Bid: &bid}, nil
	case protocol.CloseLot:
		err = m.closeLot(caller, c)
	case protocol.ExtendTimer:
		err = m.extendTimer(caller, c)
	case protocol.RequeueLot:
		err = m.requeueLot(caller, c)
	case protocol.ReplaceAuctioneer:
		err = m.replaceAuctioneer(caller, c)
	case protocol.AudioStart:
		err = m.audioStart(caller)
	case protocol.AudioStop:
		err = m.audioStop(caller)
	case protocol.AudioMute:
		err = m.audioMute(caller, c.Muted)
	default:
		err = protocol.Invalid("kind", "%s is not a session command", cmd.Kind())
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Revision: m.revision}, nil
}

// requireControl restricts auction control to admins and the designated
// auctioneer, once one is designated.
func (m *machine) requireControl(caller Caller, kind protocol.CommandKind) error {
	switch caller.Role {
	case protocol.RoleAdmin:
		return nil
	case protocol.RoleAuctioneer:
		if m.auctioneerID == "" || m.auctioneerID == caller.ParticipantID {
			return nil
		}
		return &protocol.AuthorizationError{Role: caller.Role, Command: kind, Reason: "not the designated auctioneer"}
	}
	return &protocol.AuthorizationError{Role: caller.Role, Command: kind}
}

func (m *machine) initialize(caller Caller, c protocol.InitializeSession) error {
	if err := m.requireControl(caller, c.Kind()); err != nil {
		return err
	}
	if m.status != StatusNew {
		return protocol.Conflict(protocol.CodeAlreadyInitialized, "session %s is already %s", m.id, m.status)
	}

	if c.BidWindowSeconds > 0 {
		m.timer.SetWindow(time.Duration(c.BidWindowSeconds) * time.Second)
	}
	if c.AuctioneerID != "" {
		m.auctioneerID = c.AuctioneerID
	}
	for _, t := range c.Teams {
		budget := t.Budget
		if budget == 0 {
			budget = m.cfg.DefaultBudget
		}
		m.teams[t.ID] = &Team{ID: t.ID, Name: t.Name, Budget: budget, Remaining: budget, Roster: []string{}}
	}
	m.teamsFixed = len(c.Teams) > 0
	for _, l := range c.Lots {
		m.addLot(l.ID, l.Name, l.BasePrice)
	}
	m.endWhenExhausted = c.EndWhenExhausted
	m.status = StatusReady

	m.emit(protocol.SessionInitialized{
		Status:           m.status.String(),
		BidWindowSeconds: int(m.timer.Window() / time.Second),
		AuctioneerID:     m.auctioneerID,
		Teams:            m.teamViews(),
		Lots:             m.lotViews(),
	})
	log.Info().Str("session_id", m.id).Int("teams", len(m.teams)).Int("lots", len(m.lots)).Msg("session initialized")
	return nil
}

func (m *machine) start(caller Caller) error {
	if err := m.requireControl(caller, protocol.CmdStart); err != nil {
		return err
	}
	if m.status != StatusReady {
		return protocol.Conflict(protocol.CodeInvalidTransition, "cannot start from %s", m.status)
	}
	m.status = StatusLive
	m.emit(protocol.StateTransition{Transition: protocol.TransitionStart, Status: m.status.String()})
	log.Info().Str("session_id", m.id).Msg("auction started")
	return nil
}

// pause freezes the countdown and blocks bids in the same step.
func (m *machine) pause(caller Caller) error {
	if err := m.requireControl(caller, protocol.CmdPause); err != nil {
		return err
	}
	if m.status != StatusLive {
		return protocol.Conflict(protocol.CodeInvalidTransition, "cannot pause from %s", m.status)
	}
	m.timer.Freeze()
	m.status = StatusPaused
	m.emit(protocol.StateTransition{Transition: protocol.TransitionPause, Status: m.status.String()})
	return nil
}

func (m *machine) resume(caller Caller) error {
	if err := m.requireControl(caller, protocol.CmdResume); err != nil {
		return err
	}
	if m.status != StatusPaused {
		return protocol.Conflict(protocol.CodeInvalidTransition, "cannot resume from %s", m.status)
	}
	m.timer.Unfreeze()
	m.status = StatusLive
	m.emit(protocol.StateTransition{
		Transition:  protocol.TransitionResume,
		Status:      m.status.String(),
		LotDeadline: m.timer.Deadline(),
	})
	return nil
}

func (m *machine) end(caller Caller) error {
	if err := m.requireControl(caller, protocol.CmdEnd); err != nil {
		return err
	}
	if m.status == StatusEnded {
		return protocol.Conflict(protocol.CodeInvalidTransition, "session already ended")
	}
	if m.phase == PhaseBiddingActive {
		m.settle(false)
	}
	m.finish()
	return nil
}

func (m *machine) finish() {
	m.timer.Cancel()
	m.status = StatusEnded
	m.emit(protocol.StateTransition{Transition: protocol.TransitionEnd, Status: m.status.String()})
	log.Info().Str("session_id", m.id).Msg("auction ended")
}

func (m *machine) openLot(caller Caller, c protocol.OpenLot) error {
	if err := m.requireControl(caller, c.Kind()); err != nil {
		return err
	}
	if m.status != StatusLive {
		return protocol.Conflict(protocol.CodeInvalidTransition, "cannot open a lot while %s", m.status)
	}
	if m.phase == PhaseBiddingActive {
		return protocol.Conflict(protocol.CodeLotActive, "lot %s is already in bidding", m.currentLot)
	}

	lot, ok := m.lots[c.LotID]
	if !ok {
		lot = m.addLot(c.LotID, c.Name, c.BasePrice)
	}
	if lot.Status != LotPending {
		return protocol.Conflict(protocol.CodeLotNotPending, "lot %s is %s", lot.ID, lot.Status)
	}
	if c.BasePrice > 0 || !ok {
		lot.BasePrice = c.BasePrice
	}
	if c.Name != "" {
		lot.Name = c.Name
	}

	lot.Status = LotInBidding
	m.phase = PhaseBiddingActive
	m.currentLot = lot.ID
	m.currentBid = lot.BasePrice
	m.leader = ""
	m.ledgers[lot.ID] = ledger.New(lot.ID)
	m.timer.Arm(m.timer.Window())

	m.emit(protocol.LotOpened{
		LotID:       lot.ID,
		Name:        lot.Name,
		BasePrice:   lot.BasePrice,
		LotDeadline: m.timer.Deadline(),
	})
	log.Info().Str("session_id", m.id).Str("lot_id", lot.ID).Int64("base_price", lot.BasePrice).Msg("lot opened")
	return nil
}

func (m *machine) submitBid(caller Caller, c protocol.SubmitBid) (protocol.BidView, error) {
	p, ok := m.participants[caller.ParticipantID]
	if !ok || p.Role != protocol.RoleTeam || caller.Role != protocol.RoleTeam {
		log.Warn().Str("session_id", m.id).Str("participant_id", caller.ParticipantID).Msg("bid from non-team participant")
		return protocol.BidView{}, &protocol.AuthorizationError{Role: caller.Role, Command: c.Kind(), Reason: "not a joined team participant"}
	}
	if m.status == StatusPaused {
		return protocol.BidView{}, m.reject(protocol.AuctionPaused, c.Amount)
	}
	if m.status != StatusLive {
		return protocol.BidView{}, protocol.Conflict(protocol.CodeInvalidTransition, "bidding is closed while %s", m.status)
	}
	if m.phase != PhaseBiddingActive {
		return protocol.BidView{}, protocol.Conflict(protocol.CodeNoActiveLot, "no lot is open for bidding")
	}
	// The deadline is authoritative even if the expiry has not been
	// delivered to the actor yet.
	if m.timer.Due() {
		lotID := m.currentLot
		m.settle(m.leader != "")
		m.endIfExhausted()
		return protocol.BidView{}, protocol.Conflict(protocol.CodeNoActiveLot, "bidding on %s has closed", lotID)
	}

	led := m.ledgers[m.currentLot]
	if c.Basis != nil && *c.Basis != led.LastSequence() {
		return protocol.BidView{}, m.reject(protocol.Superseded, c.Amount)
	}
	if c.Amount <= m.currentBid {
		return protocol.BidView{}, m.reject(protocol.BelowCurrent, c.Amount)
	}
	team, ok := m.teams[p.TeamID]
	if !ok {
		log.Error().Str("session_id", m.id).Str("participant_id", p.ID).Str("team_id", p.TeamID).Msg("team participant without a team")
		return protocol.BidView{}, protocol.Invalid("team_id", "unknown team %s", p.TeamID)
	}
	if c.Amount > team.Remaining {
		return protocol.BidView{}, m.reject(protocol.InsufficientBudget, c.Amount)
	}

	bid, err := led.Append(p.ID, team.ID, c.Amount, m.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", m.id).Str("lot_id", m.currentLot).Msg("ledger refused a validated bid")
		return protocol.BidView{}, m.reject(protocol.BelowCurrent, c.Amount)
	}

	m.currentBid = bid.Amount
	m.leader = p.ID
	m.timer.Reset()

	view := bidView(bid)
	m.emit(protocol.BidAccepted{
		BidID:          bid.ID,
		LotID:          bid.LotID,
		ParticipantID:  bid.ParticipantID,
		TeamID:         bid.TeamID,
		Amount:         bid.Amount,
		SequenceNumber: bid.Sequence,
		AcceptedAt:     bid.AcceptedAt,
		LotDeadline:    m.timer.Deadline(),
	})
	log.Debug().Str("session_id", m.id).Str("lot_id", bid.LotID).Str("participant_id", p.ID).
		Int64("amount", bid.Amount).Uint64("sequence", bid.Sequence).Msg("bid accepted")
	return view, nil
}

func (m *machine) reject(reason protocol.RejectReason, amount int64) error {
	return &protocol.BidRejected{Reason: reason, Amount: amount, Current: m.currentBid}
}

func (m *machine) closeLot(caller Caller, c protocol.CloseLot) error {
	if err := m.requireControl(caller, c.Kind()); err != nil {
		return err
	}
	switch {
	case m.status == StatusLive:
	case m.status == StatusPaused && c.Force:
	default:
		return protocol.Conflict(protocol.CodeInvalidTransition, "cannot close a lot while %s", m.status)
	}
	if m.phase != PhaseBiddingActive {
		return protocol.Conflict(protocol.CodeNoActiveLot, "no lot is open for bidding")
	}
	m.settle(c.Sold)
	m.endIfExhausted()
	return nil
}

// settle closes the active lot. A sold lot debits the leader's team exactly
// once; an unsold lot leaves budgets alone.
func (m *machine) settle(sold bool) {
	lot := m.lots[m.currentLot]
	m.timer.Cancel()

	ev := protocol.LotClosed{LotID: lot.ID}
	var team *Team
	if sold && m.leader != "" {
		last, _ := m.ledgers[lot.ID].Last()
		team = m.teams[last.TeamID]
		if team == nil || m.currentBid > team.Remaining {
			log.Error().Str("session_id", m.id).Str("lot_id", lot.ID).Str("participant_id", m.leader).
				Int64("amount", m.currentBid).Msg("settlement would overdraw team; closing unsold")
			team = nil
		}
	}

	if team != nil {
		team.Remaining -= m.currentBid
		team.Roster = append(team.Roster, lot.ID)
		lot.Status = LotSold
		lot.WinnerID = m.leader
		lot.WinnerTeamID = team.ID
		lot.FinalAmount = m.currentBid
		ev.Sold = true
		ev.WinnerID = m.leader
		ev.TeamID = team.ID
		ev.FinalAmount = m.currentBid
		ev.RemainingBudget = team.Remaining
	} else {
		lot.Status = LotUnsold
	}

	m.phase = PhaseIdle
	m.currentLot = ""
	m.currentBid = 0
	m.leader = ""

	m.emit(ev)
	log.Info().Str("session_id", m.id).Str("lot_id", lot.ID).Bool("sold", ev.Sold).
		Str("winner_id", ev.WinnerID).Int64("final_amount", ev.FinalAmount).Msg("lot closed")
}

func (m *machine) endIfExhausted() {
	if !m.endWhenExhausted || m.status == StatusEnded || len(m.lotOrder) == 0 {
		return
	}
	for _, id := range m.lotOrder {
		if s := m.lots[id].Status; s == LotPending || s == LotUnsold {
			return
		}
	}
	m.finish()
}

// expire handles a timer fire. Stale generations are ignored.
func (m *machine) expire(gen uint64) {
	if m.phase != PhaseBiddingActive || !m.timer.Expired(gen) {
		return
	}
	m.settle(m.leader != "")
	m.endIfExhausted()
}

// tick emits the countdown and doubles as a backstop expiry check.
func (m *machine) tick() {
	if m.phase != PhaseBiddingActive || m.timer.State() != timer.StateRunning {
		return
	}
	if m.timer.Due() {
		m.settle(m.leader != "")
		m.endIfExhausted()
		return
	}
	m.emitVolatile(protocol.TimerTick{LotID: m.currentLot, RemainingSeconds: m.timer.RemainingSeconds()})
}

func (m *machine) extendTimer(caller Caller, c protocol.ExtendTimer) error {
	if err := m.requireControl(caller, c.Kind()); err != nil {
		return err
	}
	if m.phase != PhaseBiddingActive {
		return protocol.Conflict(protocol.CodeNoActiveLot, "no lot is open for bidding")
	}
	if err := m.timer.Extend(time.Duration(c.Seconds) * time.Second); err != nil {
		return protocol.Conflict(protocol.CodeInvalidTransition, "%v", err)
	}
	m.emit(protocol.TimerExtended{LotID: m.currentLot, Seconds: c.Seconds, LotDeadline: m.timer.Deadline()})
	return nil
}

func (m *machine) requeueLot(caller Caller, c protocol.RequeueLot) error {
	if err := m.requireControl(caller, c.Kind()); err != nil {
		return err
	}
	if m.status == StatusEnded {
		return protocol.Conflict(protocol.CodeInvalidTransition, "session ended")
	}
	lot, ok := m.lots[c.LotID]
	if !ok {
		return &protocol.NotFoundError{What: "lot", ID: c.LotID}
	}
	if lot.Status != LotUnsold {
		return protocol.Conflict(protocol.CodeInvalidTransition, "lot %s is %s; only unsold lots can be requeued", lot.ID, lot.Status)
	}
	lot.Status = LotPending
	m.emit(protocol.LotRequeued{LotID: lot.ID})
	return nil
}

func (m *machine) replaceAuctioneer(caller Caller, c protocol.ReplaceAuctioneer) error {
	if err := m.requireControl(caller, c.Kind()); err != nil {
		return err
	}
	if p, ok := m.participants[c.ParticipantID]; ok && p.Role != protocol.RoleAuctioneer {
		return protocol.Invalid("participant_id", "%s joined as %s", p.ID, p.Role)
	}
	prev := m.auctioneerID
	m.auctioneerID = c.ParticipantID
	if m.audio.MicOn && m.audio.BroadcasterID != c.ParticipantID {
		m.micOff()
	}
	m.emit(protocol.AuctioneerReplaced{PreviousID: prev, ParticipantID: c.ParticipantID})
	log.Info().Str("session_id", m.id).Str("previous_id", prev).Str("participant_id", c.ParticipantID).Msg("auctioneer replaced")
	return nil
}

func (m *machine) audioStart(caller Caller) error {
	if err := m.requireControl(caller, protocol.CmdAudioStart); err != nil {
		return err
	}
	if m.audio.MicOn {
		if m.audio.BroadcasterID == caller.ParticipantID {
			return nil
		}
		return protocol.Conflict(protocol.CodeInvalidTransition, "%s is already broadcasting", m.audio.BroadcasterID)
	}
	m.audio = protocol.AudioView{BroadcasterID: caller.ParticipantID, MicOn: true}
	m.emit(protocol.AudioMicOn{BroadcasterID: caller.ParticipantID})
	return nil
}

func (m *machine) audioStop(caller Caller) error {
	if err := m.requireControl(caller, protocol.CmdAudioStop); err != nil {
		return err
	}
	if !m.audio.MicOn {
		return protocol.Conflict(protocol.CodeInvalidTransition, "no active broadcast")
	}
	if caller.Role != protocol.RoleAdmin && m.audio.BroadcasterID != caller.ParticipantID {
		return &protocol.AuthorizationError{Role: caller.Role, Command: protocol.CmdAudioStop, Reason: "not the broadcaster"}
	}
	m.micOff()
	return nil
}

func (m *machine) audioMute(caller Caller, muted bool) error {
	if !m.audio.MicOn {
		return protocol.Conflict(protocol.CodeInvalidTransition, "no active broadcast")
	}
	if m.audio.BroadcasterID != caller.ParticipantID {
		return &protocol.AuthorizationError{Role: caller.Role, Command: protocol.CmdAudioMute, Reason: "not the broadcaster"}
	}
	if m.audio.Muted == muted {
		return nil
	}
	m.audio.Muted = muted
	m.emit(protocol.AudioMuteChanged{BroadcasterID: m.audio.BroadcasterID, Muted: muted})
	return nil
}

func (m *machine) micOff() {
	id := m.audio.BroadcasterID
	m.audio = protocol.AudioView{}
	m.emit(protocol.AudioMicOff{BroadcasterID: id})
}

// join registers a connection. JOIN is emitted when a participant goes from
// offline to online.
func (m *machine) join(p Participant) error {
	if p.ID == "" {
		return protocol.Invalid("participant_id", "required")
	}
	if _, err := protocol.ParseRole(string(p.Role)); err != nil {
		return err
	}
	if p.Role == protocol.RoleTeam && p.TeamID == "" {
		p.TeamID = p.ID
	}
	if p.Role != protocol.RoleTeam {
		p.TeamID = ""
	}

	existing, ok := m.participants[p.ID]
	if ok && (existing.Role != p.Role || existing.TeamID != p.TeamID) {
		return protocol.Invalid("participant_id", "%s already joined as %s", p.ID, existing.Role)
	}
	var created *protocol.TeamView
	if p.Role == protocol.RoleTeam {
		if _, known := m.teams[p.TeamID]; !known {
			if m.teamsFixed {
				return protocol.Invalid("team_id", "unknown team %s", p.TeamID)
			}
			m.teams[p.TeamID] = &Team{
				ID:        p.TeamID,
				Budget:    m.cfg.DefaultBudget,
				Remaining: m.cfg.DefaultBudget,
				Roster:    []string{},
			}
			created = &protocol.TeamView{
				TeamID:          p.TeamID,
				Budget:          m.cfg.DefaultBudget,
				RemainingBudget: m.cfg.DefaultBudget,
				Roster:          []string{},
			}
		}
	}

	if !ok {
		existing = &Participant{ID: p.ID, Role: p.Role, TeamID: p.TeamID}
		m.participants[p.ID] = existing
	}
	existing.conns++
	if existing.conns == 1 {
		m.emit(protocol.Join{ParticipantID: p.ID, Role: p.Role, TeamID: p.TeamID, Team: created})
	}
	return nil
}

// LeaveResult tells the caller what a disconnect changed.
type LeaveResult struct {
	Offline    bool // last connection of the participant closed
	MicDropped bool // the participant was broadcasting
}

func (m *machine) leave(participantID string) LeaveResult {
	p, ok := m.participants[participantID]
	if !ok || p.conns == 0 {
		return LeaveResult{}
	}
	p.conns--
	if p.conns > 0 {
		return LeaveResult{}
	}
	res := LeaveResult{Offline: true}
	if m.audio.MicOn && m.audio.BroadcasterID == participantID {
		m.micOff()
		res.MicDropped = true
	}
	m.emit(protocol.Leave{ParticipantID: participantID})
	return res
}

func (m *machine) addLot(id, name string, base int64) *Lot {
	lot := &Lot{ID: id, Name: name, BasePrice: base, Status: LotPending}
	m.lots[id] = lot
	m.lotOrder = append(m.lotOrder, id)
	return lot
}

func (m *machine) String() string {
	return fmt.Sprintf("session %s rev %d %s/%s", m.id, m.revision, m.status, m.phase)
}
