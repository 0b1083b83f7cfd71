package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yolodice"

// Call outcomes.
const (
	OutcomeResult      = "result"
	OutcomeRemoteError = "remote_error"
	OutcomeTimeout     = "timeout"
	OutcomeClosed      = "closed"
	OutcomeFailed      = "failed"
)

// Collector holds the session metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	calls      *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	pending    prometheus.Gauge
	anomalies  *prometheus.CounterVec
	latency    prometheus.Histogram
	authState  prometheus.Gauge
	reconnects prometheus.Counter
}

// New builds the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Remote calls issued, by method.",
		}, []string{"method"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Completed remote calls, by outcome.",
		}, []string{"outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_calls",
			Help:      "Calls awaiting a response.",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_anomalies_total",
			Help:      "Inbound frames that could not be correlated or decoded, by kind.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Time from issuing a call to its completion.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		authState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auth_state",
			Help:      "Current authentication state (0 idle, 1 challenge requested, 2 awaiting verification, 3 authenticated, 4 failed).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Links re-established after a transport failure.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.calls, c.outcomes, c.pending, c.anomalies, c.latency, c.authState, c.reconnects)
	}
	return c
}

func (c *Collector) CallIssued(method string) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(method).Inc()
	c.pending.Inc()
}

func (c *Collector) CallCompleted(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome).Inc()
	c.pending.Dec()
	c.latency.Observe(elapsed.Seconds())
}

func (c *Collector) Anomaly(kind string) {
	if c == nil {
		return
	}
	c.anomalies.WithLabelValues(kind).Inc()
}

func (c *Collector) AuthState(state int) {
	if c == nil {
		return
	}
	c.authState.Set(float64(state))
}

func (c *Collector) Reconnected() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}
