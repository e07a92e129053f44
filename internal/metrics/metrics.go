package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shruti8766/hype-hammer-sub001/internal/protocol"
)

// Metrics holds the server's collectors on a private registry so tests can
// build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	bids        *prometheus.CounterVec
	lotsClosed  *prometheus.CounterVec
	events      *prometheus.CounterVec
	dropped     prometheus.Counter
	audio       *prometheus.CounterVec
	connections prometheus.Gauge
	sessions    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hammer",
			Name:      "bids_total",
			Help:      "Bid attempts by outcome.",
		}, []string{"outcome"}),
		lotsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hammer",
			Name:      "lots_closed_total",
			Help:      "Closed lots by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hammer",
			Name:      "events_total",
			Help:      "Events emitted by sessions, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hammer",
			Name:      "events_dropped_total",
			Help:      "Events dropped from full participant queues.",
		}),
		audio: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hammer",
			Name:      "audio_negotiations_total",
			Help:      "Audio negotiation results per listener.",
		}, []string{"result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hammer",
			Name:      "connections",
			Help:      "Open participant connections.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hammer",
			Name:      "sessions",
			Help:      "Sessions held in memory.",
		}),
	}
	m.registry.MustRegister(
		m.bids, m.lotsClosed, m.events, m.dropped, m.audio, m.connections, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe counts session events. It runs on the session goroutine.
func (m *Metrics) Observe(env protocol.Envelope) {
	if env.Type == protocol.KindTimerTick {
		return
	}
	m.events.WithLabelValues(string(env.Type)).Inc()
	switch ev := env.Data.(type) {
	case protocol.BidAccepted:
		m.bids.WithLabelValues("accepted").Inc()
	case protocol.LotClosed:
		if ev.Sold {
			m.lotsClosed.WithLabelValues("sold").Inc()
		} else {
			m.lotsClosed.WithLabelValues("unsold").Inc()
		}
	}
}

// BidRejected counts a rejection by reason.
func (m *Metrics) BidRejected(reason protocol.RejectReason) {
	m.bids.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) Dropped() { m.dropped.Inc() }

func (m *Metrics) AudioResult(result string) { m.audio.WithLabelValues(result).Inc() }

func (m *Metrics) Connected() { m.connections.Inc() }

func (m *Metrics) Disconnected() { m.connections.Dec() }

func (m *Metrics) SessionCount(n int) { m.sessions.Set(float64(n)) }

func (m *Metrics) Registry() prometheus.Gatherer { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
