package transport

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the transport counters. A nil *Metrics records nothing.
type Metrics struct {
	DatagramsReceived prometheus.Counter
	DatagramsSent     prometheus.Counter
	ListenerRestarts  prometheus.Counter
	ChannelFailures   prometheus.Counter
	Requests          *prometheus.CounterVec
	OpenConnections   prometheus.Gauge
}

// NewMetrics creates the transport metrics and registers them on reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DatagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headlink",
			Subsystem: "udp",
			Name:      "datagrams_received_total",
			Help:      "Datagrams received by UDP channels.",
		}),
		DatagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headlink",
			Subsystem: "udp",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams sent by UDP channels.",
		}),
		ListenerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headlink",
			Subsystem: "udp",
			Name:      "listener_restarts_total",
			Help:      "UDP listener restarts after a failure.",
		}),
		ChannelFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headlink",
			Subsystem: "udp",
			Name:      "channel_failures_total",
			Help:      "UDP channels that exhausted their restart budget.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "headlink",
			Subsystem: "tcp",
			Name:      "requests_total",
			Help:      "Requests served by the connection provider, by status class.",
		}, []string{"class"}),
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "headlink",
			Subsystem: "tcp",
			Name:      "open_connections",
			Help:      "Connections currently open on the connection provider.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.DatagramsReceived,
			m.DatagramsSent,
			m.ListenerRestarts,
			m.ChannelFailures,
			m.Requests,
			m.OpenConnections,
		)
	}
	return m
}

func (m *Metrics) datagramReceived() {
	if m != nil {
		m.DatagramsReceived.Inc()
	}
}

func (m *Metrics) datagramSent() {
	if m != nil {
		m.DatagramsSent.Inc()
	}
}

func (m *Metrics) listenerRestarted() {
	if m != nil {
		m.ListenerRestarts.Inc()
	}
}

func (m *Metrics) channelFailed() {
	if m != nil {
		m.ChannelFailures.Inc()
	}
}

func (m *Metrics) requestServed(status int) {
	if m == nil {
		return
	}
	class := "other"
	if status >= 100 && status < 600 {
		class = strconv.Itoa(status/100) + "xx"
	}
	m.Requests.WithLabelValues(class).Inc()
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.OpenConnections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.OpenConnections.Dec()
	}
}
