package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, window time.Duration) (*Engine, *clockwork.FakeClock, chan uint64) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	fired := make(chan uint64, 8)
	e := New(clock, window, func(gen uint64) { fired <- gen })
	return e, clock, fired
}

func waitFire(t *testing.T, fired chan uint64) uint64 {
	t.Helper()
	select {
	case gen := <-fired:
		return gen
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
		return 0
	}
}

func TestArmAndExpire(t *testing.T) {
	e, clock, fired := newTestEngine(t, 30*time.Second)

	e.Arm(e.Window())
	assert.Equal(t, StateRunning, e.State())
	assert.Equal(t, 30, e.RemainingSeconds())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 20, e.RemainingSeconds())
	assert.False(t, e.Due())

	clock.Advance(20 * time.Second)
	gen := waitFire(t, fired)
	assert.True(t, e.Expired(gen))
	assert.Equal(t, 0, e.RemainingSeconds())
}

func TestResetRestoresFullWindow(t *testing.T) {
	e, clock, _ := newTestEngine(t, 30*time.Second)

	e.Arm(e.Window())
	clock.Advance(25 * time.Second)
	require.Equal(t, 5, e.RemainingSeconds())

	e.Reset()
	assert.Equal(t, 30, e.RemainingSeconds())
	assert.Equal(t, clock.Now().Add(30*time.Second), e.Deadline())
}

func TestStaleGenerationIsIgnored(t *testing.T) {
	e, clock, fired := newTestEngine(t, 10*time.Second)

	e.Arm(e.Window())
	stale := e.Generation()
	clock.Advance(5 * time.Second)
	e.Reset()

	clock.Advance(10 * time.Second)
	gen := waitFire(t, fired)
	assert.False(t, e.Expired(stale))
	assert.True(t, e.Expired(gen))
}

func TestFreezeHoldsRemaining(t *testing.T) {
	e, clock, _ := newTestEngine(t, 30*time.Second)

	e.Arm(e.Window())
	clock.Advance(12 * time.Second)
	e.Freeze()
	assert.Equal(t, StateFrozen, e.State())
	assert.True(t, e.Deadline().IsZero())

	clock.Advance(time.Minute)
	assert.Equal(t, 18, e.RemainingSeconds())
	assert.False(t, e.Due())

	e.Unfreeze()
	assert.Equal(t, StateRunning, e.State())
	assert.Equal(t, 18, e.RemainingSeconds())
}

func TestExtend(t *testing.T) {
	e, clock, _ := newTestEngine(t, 30*time.Second)

	assert.ErrorIs(t, e.Extend(time.Second), ErrNotArmed)

	e.Arm(e.Window())
	clock.Advance(20 * time.Second)
	require.NoError(t, e.Extend(15*time.Second))
	assert.Equal(t, 25, e.RemainingSeconds())

	e.Freeze()
	require.NoError(t, e.Extend(5*time.Second))
	assert.Equal(t, 30, e.RemainingSeconds())
}

func TestCancel(t *testing.T) {
	e, clock, fired := newTestEngine(t, 5*time.Second)

	e.Arm(e.Window())
	gen := e.Generation()
	e.Cancel()
	clock.Advance(10 * time.Second)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, e.Expired(gen))
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 0, e.RemainingSeconds())
}
