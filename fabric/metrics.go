package fabric

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the fabric service counters. A nil *Metrics records nothing.
type Metrics struct {
	Sessions          prometheus.Gauge
	Pairs             prometheus.Counter
	Pushes            prometheus.Counter
	DatagramsReceived prometheus.Counter
}

// NewMetrics creates the fabric metrics and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "headlink",
			Subsystem: "fabric",
			Name:      "sessions",
			Help:      "Paired sessions currently live.",
		}),
		Pairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headlink",
			Subsystem: "fabric",
			Name:      "pairs_total",
			Help:      "Sessions paired since start.",
		}),
		Pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headlink",
			Subsystem: "fabric",
			Name:      "pushes_total",
			Help:      "Datagrams pushed to paired heads.",
		}),
		DatagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "headlink",
			Subsystem: "fabric",
			Name:      "inbox_datagrams_total",
			Help:      "Datagrams received from paired heads.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Sessions, m.Pairs, m.Pushes, m.DatagramsReceived)
	}
	return m
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.Sessions.Inc()
		m.Pairs.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.Sessions.Dec()
	}
}

func (m *Metrics) pushed() {
	if m != nil {
		m.Pushes.Inc()
	}
}

func (m *Metrics) received() {
	if m != nil {
		m.DatagramsReceived.Inc()
	}
}
