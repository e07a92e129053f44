package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsGapFreeSequence(t *testing.T) {
	l := New("lot-1")
	now := time.Now()

	for i, amount := range []int64{100, 150, 175} {
		bid, err := l.Append("p1", "t1", amount, now)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), bid.Sequence)
		assert.Equal(t, "lot-1", bid.LotID)
		assert.NotEmpty(t, bid.ID)
	}
	assert.Equal(t, uint64(3), l.LastSequence())

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, int64(175), last.Amount)
}

func TestAppendRejectsNonIncreasing(t *testing.T) {
	l := New("lot-1")
	_, err := l.Append("p1", "t1", 200, time.Now())
	require.NoError(t, err)

	_, err = l.Append("p2", "t2", 200, time.Now())
	assert.ErrorIs(t, err, ErrNotIncreasing)
	_, err = l.Append("p2", "t2", 150, time.Now())
	assert.ErrorIs(t, err, ErrNotIncreasing)

	// rejected attempts do not consume a sequence number
	bid, err := l.Append("p2", "t2", 201, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), bid.Sequence)
}

func TestSinceAndTail(t *testing.T) {
	l := New("lot-1")
	for i := int64(1); i <= 5; i++ {
		_, err := l.Append("p1", "t1", i*10, time.Now())
		require.NoError(t, err)
	}

	since := l.Since(3)
	require.Len(t, since, 2)
	assert.Equal(t, uint64(4), since[0].Sequence)
	assert.Equal(t, uint64(5), since[1].Sequence)

	assert.Empty(t, l.Since(5))
	assert.Empty(t, l.Since(99))
	assert.Len(t, l.Since(0), 5)

	tail := l.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(40), tail[0].Amount)
	assert.Len(t, l.Tail(10), 5)
	assert.Empty(t, l.Tail(0))
}

func TestConcurrentAppendKeepsOrder(t *testing.T) {
	l := New("lot-1")
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			l.Append("p", "t", amount, time.Now())
		}(int64(i))
	}
	wg.Wait()

	bids := l.Since(0)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i].Amount, bids[i-1].Amount)
		assert.Equal(t, bids[i-1].Sequence+1, bids[i].Sequence)
	}
}
