package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tickhub"

// Wire call results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds every collector the hub exports. A nil *Metrics is valid and
// records nothing, so components can run without a registry (tests, tools).
type Metrics struct {
	TicksReceived   prometheus.Counter
	TicksDispatched prometheus.Counter
	TicksDropped    prometheus.Counter
	TicksUnrouted   prometheus.Counter
	Reconnects      prometheus.Counter
	WireCalls       *prometheus.CounterVec

	ConnectionState       prometheus.Gauge
	SubscribedInstruments prometheus.Gauge
	Consumers             prometheus.Gauge

	PushSessions prometheus.Gauge

	WriterRows    *prometheus.CounterVec
	WriterFlushes *prometheus.CounterVec
	CacheWrites   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_received_total",
			Help:      "Ticks decoded from the upstream feed.",
		}),
		TicksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_dispatched_total",
			Help:      "Tick deliveries accepted by consumer sinks.",
		}),
		TicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_dropped_total",
			Help:      "Tick deliveries dropped because a consumer sink was full.",
		}),
		TicksUnrouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_unrouted_total",
			Help:      "Ticks discarded because no consumer wanted the instrument.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after the connection went stale.",
		}),
		WireCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wire_calls_total",
			Help:      "Batched subscribe/unsubscribe calls by outcome.",
		}, []string{"op", "result"}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Upstream state: 0 disconnected, 1 connecting, 2 connected, 3 stale.",
		}),
		SubscribedInstruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribed_instruments",
			Help:      "Distinct instruments in the desired subscription set.",
		}),
		Consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumers",
			Help:      "Registered consumers.",
		}),
		PushSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_sessions",
			Help:      "Open downstream websocket sessions.",
		}),
		WriterRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_rows_total",
			Help:      "Archived tick rows by outcome.",
		}, []string{"result"}),
		WriterFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_flushes_total",
			Help:      "Archive batch flushes by outcome.",
		}, []string{"result"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Last-price cache pipeline flushes by outcome.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TicksReceived,
			m.TicksDispatched,
			m.TicksDropped,
			m.TicksUnrouted,
			m.Reconnects,
			m.WireCalls,
			m.ConnectionState,
			m.SubscribedInstruments,
			m.Consumers,
			m.PushSessions,
			m.WriterRows,
			m.WriterFlushes,
			m.CacheWrites,
		)
	}

	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) TickReceived() {
	if m != nil {
		m.TicksReceived.Inc()
	}
}

func (m *Metrics) TickDispatched() {
	if m != nil {
		m.TicksDispatched.Inc()
	}
}

func (m *Metrics) TickDropped() {
	if m != nil {
		m.TicksDropped.Inc()
	}
}

func (m *Metrics) TickUnrouted() {
	if m != nil {
		m.TicksUnrouted.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

// WireCall records one batched subscribe/unsubscribe.
func (m *Metrics) WireCall(op string, err error) {
	if m == nil {
		return
	}
	m.WireCalls.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) SetConnectionState(state int) {
	if m != nil {
		m.ConnectionState.Set(float64(state))
	}
}

func (m *Metrics) SetSubscribed(n int) {
	if m != nil {
		m.SubscribedInstruments.Set(float64(n))
	}
}

func (m *Metrics) SetConsumers(n int) {
	if m != nil {
		m.Consumers.Set(float64(n))
	}
}

func (m *Metrics) SetPushSessions(n int) {
	if m != nil {
		m.PushSessions.Set(float64(n))
	}
}

// WriterFlush records one archive batch.
func (m *Metrics) WriterFlush(inserted, conflicts, failed int, err error) {
	if m == nil {
		return
	}
	m.WriterFlushes.WithLabelValues(result(err)).Inc()
	m.WriterRows.WithLabelValues("inserted").Add(float64(inserted))
	m.WriterRows.WithLabelValues("conflict").Add(float64(conflicts))
	m.WriterRows.WithLabelValues("error").Add(float64(failed))
}

// CacheFlush records one cache pipeline flush.
func (m *Metrics) CacheFlush(err error) {
	if m != nil {
		m.CacheWrites.WithLabelValues(result(err)).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
