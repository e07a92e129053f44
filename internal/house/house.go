package house

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/shruti8766/hype-hammer-sub001/internal/auction"
	"github.com/shruti8766/hype-hammer-sub001/internal/audio"
	"github.com/shruti8766/hype-hammer-sub001/internal/broadcast"
	"github.com/shruti8766/hype-hammer-sub001/internal/bus"
	"github.com/shruti8766/hype-hammer-sub001/internal/metrics"
	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
	"github.com/shruti8766/hype-hammer-sub001/internal/store"
)

var (
	ErrRoomExists = errors.New("session already exists")
	ErrClosed     = errors.New("house closed")
)

// Room is one live auction with everything attached to it.
type Room struct {
	ID          string
	Session     *auction.Session
	Broadcaster *broadcast.Broadcaster
	Audio       *audio.Relay
	CreatedAt   time.Time

	recorder *Recorder
	mirror   *bus.Mirror
	endedAt  atomic.Int64 // unix nanos, 0 while not ended
}

// Ended reports when the session ended, if it has.
func (r *Room) Ended() (time.Time, bool) {
	n := r.endedAt.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

func (r *Room) close() {
	r.Session.Close()
	r.Audio.Close()
	r.Broadcaster.Close()
	if r.recorder != nil {
		r.recorder.Close()
	}
	if r.mirror != nil {
		r.mirror.Close()
	}
}

// Config tunes every room the house creates.
type Config struct {
	Auction       auction.Config
	ChannelBuffer int           // Per-connection outbound queue
	AudioTimeout  time.Duration // Listener negotiation deadline
	BusPrefix     string        // Subject prefix for mirrored events
	RetainEnded   time.Duration // How long an ended, empty room stays in memory
	ReapInterval  time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Auction:       auction.DefaultConfig(),
		ChannelBuffer: 256,
		AudioTimeout:  15 * time.Second,
		BusPrefix:     "hammer",
		RetainEnded:   30 * time.Minute,
		ReapInterval:  time.Minute,
	}
}

// House is the session registry. It builds rooms and wires their observers:
// fan-out first, then audio, persistence, the bus mirror and metrics.
type House struct {
	mu    sync.RWMutex
	cfg   Config
	clock clockwork.Clock
	rooms map[string]*Room

	store   *store.Store
	pub     bus.Publisher
	metrics *metrics.Metrics

	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

type Option func(*House)

func WithStore(st *store.Store) Option { return func(h *House) { h.store = st } }

func WithPublisher(p bus.Publisher) Option { return func(h *House) { h.pub = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *House) { h.metrics = m } }

func WithClock(c clockwork.Clock) Option { return func(h *House) { h.clock = c } }

// New creates a house and starts its reaper.
func New(cfg Config, opts ...Option) *House {
	d := DefaultConfig()
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = d.ChannelBuffer
	}
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = d.AudioTimeout
	}
	if cfg.BusPrefix == "" {
		cfg.BusPrefix = d.BusPrefix
	}
	if cfg.RetainEnded <= 0 {
		cfg.RetainEnded = d.RetainEnded
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = d.ReapInterval
	}
	h := &House{
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		rooms:   make(map[string]*Room),
		running: true,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cfg.Auction.Clock == nil {
		h.cfg.Auction.Clock = h.clock
	}
	go h.reapLoop()
	return h
}

// Create opens a new room. An empty id gets a generated one.
func (h *House) Create(id string) (*Room, error) {
	if id == "" {
		id = uuid.NewString()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return nil, ErrClosed
	}
	if _, ok := h.rooms[id]; ok {
		return nil, ErrRoomExists
	}

	if h.store != nil {
		window := int(h.cfg.Auction.BidWindow / time.Second)
		if err := h.store.CreateSession(id, window); err != nil {
			return nil, err
		}
	}

	room := h.build(id)
	h.rooms[id] = room
	h.updateCount()

	log.Info().Str("session_id", id).Msg("session created")
	return room, nil
}

func (h *House) build(id string) *Room {
	room := &Room{ID: id, CreatedAt: h.clock.Now()}

	var bopts []broadcast.Option
	if h.metrics != nil {
		bopts = append(bopts, broadcast.WithDropHook(func(string) { h.metrics.Dropped() }))
	}
	room.Broadcaster = broadcast.New(id, bopts...)

	aopts := []audio.Option{audio.WithClock(h.clock), audio.WithTimeout(h.cfg.AudioTimeout)}
	if h.metrics != nil {
		aopts = append(aopts, audio.WithResultHook(h.metrics.AudioResult))
	}
	room.Audio = audio.NewRelay(id, room.Broadcaster, aopts...)

	observers := []auction.Observer{room.Broadcaster, room.Audio}
	if h.store != nil {
		room.recorder = NewRecorder(h.store, 0)
		observers = append(observers, room.recorder)
	}
	if h.pub != nil {
		room.mirror = bus.NewMirror(h.pub, h.cfg.BusPrefix, 0)
		observers = append(observers, room.mirror)
	}
	if h.metrics != nil {
		observers = append(observers, h.metrics)
	}
	observers = append(observers, auction.ObserverFunc(func(env protocol.Envelope) {
		if ev, ok := env.Data.(protocol.StateTransition); ok && ev.Transition == protocol.TransitionEnd {
			room.endedAt.Store(env.At.UnixNano())
		}
	}))

	room.Session = auction.NewSession(id, h.cfg.Auction, observers...)
	return room
}

// Get returns a room by id.
func (h *House) Get(id string) (*Room, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[id]
	if !ok {
		return nil, &protocol.NotFoundError{What: "session", ID: id}
	}
	return room, nil
}

// Remove closes a room and forgets it.
func (h *House) Remove(id string) error {
	h.mu.Lock()
	room, ok := h.rooms[id]
	if ok {
		delete(h.rooms, id)
		h.updateCount()
	}
	h.mu.Unlock()

	if !ok {
		return &protocol.NotFoundError{What: "session", ID: id}
	}
	room.close()
	log.Info().Str("session_id", id).Msg("session removed")
	return nil
}

// Discard removes a room whose initialization failed, including its
// stored row.
func (h *House) Discard(id string) error {
	if err := h.Remove(id); err != nil {
		return err
	}
	if h.store == nil {
		return nil
	}
	return h.store.DeleteNewSession(id)
}

// List returns the ids of every room, sorted.
func (h *House) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops the reaper and every room.
func (h *House) Close() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	rooms := h.rooms
	h.rooms = make(map[string]*Room)
	h.updateCount()
	h.mu.Unlock()

	<-h.done
	for _, room := range rooms {
		room.close()
	}
}

// reapLoop drops rooms that ended a while ago and have nobody connected.
func (h *House) reapLoop() {
	defer close(h.done)
	ticker := h.clock.NewTicker(h.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.Chan():
			h.reap()
		}
	}
}

func (h *House) reap() {
	now := h.clock.Now()
	var stale []string

	h.mu.RLock()
	for id, room := range h.rooms {
		ended, ok := room.Ended()
		if ok && now.Sub(ended) >= h.cfg.RetainEnded && room.Broadcaster.Count() == 0 {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		if err := h.Remove(id); err == nil {
			log.Info().Str("session_id", id).Msg("reaped ended session")
		}
	}
}

// updateCount must be called with mu held.
func (h *House) updateCount() {
	if h.metrics != nil {
		h.metrics.SessionCount(len(h.rooms))
	}
}
