// Package timer implements the server-owned lot countdown.
package timer

import (
	"errors"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// State of the countdown.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFrozen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateFrozen:
		return "FROZEN"
	default:
		return "UNKNOWN"
	}
}

var ErrNotArmed = errors.New("timer is not armed")

// Engine is a single countdown. It is not safe for concurrent use; the
// session actor owns it. The expiry callback runs on a clock goroutine and
// receives the generation that armed it, so callers can drop stale fires.
type Engine struct {
	clock    clockwork.Clock
	window   time.Duration
	onExpire func(gen uint64)

	state    State
	deadline time.Time
	frozen   time.Duration // remaining time while frozen
	gen      uint64
	t        clockwork.Timer
}

// New creates an idle engine. window is the full countdown used by Reset.
func New(clock clockwork.Clock, window time.Duration, onExpire func(gen uint64)) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{clock: clock, window: window, onExpire: onExpire}
}

func (e *Engine) Window() time.Duration { return e.window }

// SetWindow changes the full countdown for later arms and resets.
func (e *Engine) SetWindow(d time.Duration) { e.window = d }

func (e *Engine) State() State       { return e.state }
func (e *Engine) Generation() uint64 { return e.gen }

// Arm starts a countdown of d, replacing any running one.
func (e *Engine) Arm(d time.Duration) {
	e.state = StateRunning
	e.deadline = e.clock.Now().Add(d)
	e.schedule(d)
}

// Reset rearms the full window. Used on every accepted bid.
func (e *Engine) Reset() {
	if e.state == StateFrozen {
		e.frozen = e.window
		return
	}
	e.Arm(e.window)
}

// Extend pushes the deadline out by d.
func (e *Engine) Extend(d time.Duration) error {
	switch e.state {
	case StateRunning:
		e.deadline = e.deadline.Add(d)
		e.schedule(e.deadline.Sub(e.clock.Now()))
	case StateFrozen:
		e.frozen += d
	default:
		return ErrNotArmed
	}
	return nil
}

// Freeze stops the countdown and keeps the remaining time.
func (e *Engine) Freeze() {
	if e.state != StateRunning {
		return
	}
	e.frozen = e.remaining()
	e.state = StateFrozen
	e.stop()
}

// Unfreeze resumes a frozen countdown with the time it had left.
func (e *Engine) Unfreeze() {
	if e.state != StateFrozen {
		return
	}
	e.Arm(e.frozen)
	e.frozen = 0
}

// Cancel disarms the countdown.
func (e *Engine) Cancel() {
	e.state = StateIdle
	e.deadline = time.Time{}
	e.frozen = 0
	e.stop()
}

// Deadline is zero unless the countdown is running.
func (e *Engine) Deadline() time.Time {
	if e.state != StateRunning {
		return time.Time{}
	}
	return e.deadline
}

// Remaining is the time left, frozen or running.
func (e *Engine) Remaining() time.Duration {
	switch e.state {
	case StateRunning:
		return e.remaining()
	case StateFrozen:
		return e.frozen
	}
	return 0
}

// RemainingSeconds rounds up so a display never shows 0 before expiry.
func (e *Engine) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining().Seconds()))
}

// Expired is the authoritative "time's up" check.
func (e *Engine) Expired(gen uint64) bool {
	return gen == e.gen && e.Due()
}

// Due reports a running countdown that has reached its deadline.
func (e *Engine) Due() bool {
	return e.state == StateRunning && !e.clock.Now().Before(e.deadline)
}

func (e *Engine) remaining() time.Duration {
	d := e.deadline.Sub(e.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

func (e *Engine) schedule(d time.Duration) {
	e.stop()
	e.gen++
	gen := e.gen
	if e.onExpire == nil {
		return
	}
	e.t = e.clock.AfterFunc(d, func() { e.onExpire(gen) })
}

func (e *Engine) stop() {
	if e.t != nil {
		e.t.Stop()
		e.t = nil
	}
	e.gen++
}
