package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

func envelope(rev uint64) protocol.Envelope {
	return protocol.Envelope{
		Type:      protocol.KindLotRequeued,
		Revision:  rev,
		SessionID: "s1",
		Data:      protocol.LotRequeued{LotID: "l1"},
	}
}

func TestChannelDropsOldest(t *testing.T) {
	c := NewChannel("p", protocol.RoleTeam, 2)
	assert.False(t, c.Push(Frame{Revision: 1}))
	assert.False(t, c.Push(Frame{Revision: 2}))
	assert.True(t, c.Push(Frame{Revision: 3}))
	assert.Equal(t, uint64(1), c.Dropped())

	ctx := context.Background()
	f, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Revision)
	f, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Revision)
}

func TestChannelNextWaits(t *testing.T) {
	c := NewChannel("p", protocol.RoleTeam, 4)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Push(Frame{Revision: 9})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), f.Revision)
}

func TestChannelClose(t *testing.T) {
	c := NewChannel("p", protocol.RoleTeam, 4)
	c.Close()
	c.Close()
	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, c.Push(Frame{}))
}

func TestChannelAckIsMonotonic(t *testing.T) {
	c := NewChannel("p", protocol.RoleTeam, 4)
	c.Ack(5)
	c.Ack(3)
	assert.Equal(t, uint64(5), c.LastAcked())
}

func TestObserveReachesEveryChannelInOrder(t *testing.T) {
	b := New("s1")
	a := NewChannel("a", protocol.RoleTeam, 16)
	z := NewChannel("z", protocol.RoleSpectator, 16)
	b.Attach(a)
	b.Attach(z)

	for rev := uint64(1); rev <= 5; rev++ {
		b.Observe(envelope(rev))
	}

	ctx := context.Background()
	for _, c := range []*Channel{a, z} {
		for rev := uint64(1); rev <= 5; rev++ {
			f, err := c.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, rev, f.Revision)

			var env protocol.Envelope
			require.NoError(t, json.Unmarshal(f.Data, &env))
			assert.Equal(t, protocol.LotRequeued{LotID: "l1"}, env.Data)
		}
	}
}

func TestSendTo(t *testing.T) {
	drops := 0
	b := New("s1", WithDropHook(func(string) { drops++ }))
	c := NewChannel("listener", protocol.RoleTeam, 1)
	b.Attach(c)

	require.NoError(t, b.SendTo("listener", envelope(0)))
	require.NoError(t, b.SendTo("listener", envelope(0)))
	assert.Equal(t, 1, drops)

	err := b.SendTo("nobody", envelope(0))
	var ce *protocol.ConnectionError
	assert.True(t, errors.As(err, &ce))

	assert.True(t, b.Connected("listener"))
	b.Detach(c)
	assert.False(t, b.Connected("listener"))
	assert.Equal(t, 0, b.Count())
	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
