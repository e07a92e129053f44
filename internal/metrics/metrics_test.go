package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestObserveCountsOutcomes(t *testing.T) {
	m := New()

	m.Observe(protocol.Envelope{Type: protocol.KindBidAccepted, Data: protocol.BidAccepted{Amount: 10}})
	m.Observe(protocol.Envelope{Type: protocol.KindBidAccepted, Data: protocol.BidAccepted{Amount: 20}})
	m.Observe(protocol.Envelope{Type: protocol.KindLotClosed, Data: protocol.LotClosed{Sold: true}})
	m.Observe(protocol.Envelope{Type: protocol.KindLotClosed, Data: protocol.LotClosed{}})
	m.Observe(protocol.Envelope{Type: protocol.KindTimerTick, Data: protocol.TimerTick{}})
	m.BidRejected(protocol.BelowCurrent)

	body := scrape(t, m)
	assert.Contains(t, body, `hammer_bids_total{outcome="accepted"} 2`)
	assert.Contains(t, body, `hammer_bids_total{outcome="BELOW_CURRENT"} 1`)
	assert.Contains(t, body, `hammer_lots_closed_total{result="sold"} 1`)
	assert.Contains(t, body, `hammer_lots_closed_total{result="unsold"} 1`)
	assert.Contains(t, body, `hammer_events_total{type="LOT_CLOSED"} 2`)
	assert.NotContains(t, body, `type="TIMER_TICK"`)
}

func TestGauges(t *testing.T) {
	m := New()
	m.Connected()
	m.Connected()
	m.Disconnected()
	m.SessionCount(3)

	body := scrape(t, m)
	assert.Contains(t, body, "hammer_connections 1")
	assert.Contains(t, body, "hammer_sessions 3")
}

func TestDroppedAndAudio(t *testing.T) {
	m := New()
	m.Dropped()
	m.AudioResult("connected")

	body := scrape(t, m)
	assert.Contains(t, body, "hammer_events_dropped_total 1")
	assert.Contains(t, body, `hammer_audio_negotiations_total{result="connected"} 1`)
}
