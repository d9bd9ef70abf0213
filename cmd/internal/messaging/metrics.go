package messaging

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the message sync counters exported on /metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sent          prometheus.Counter
	duplicates    prometheus.Counter
	rejected      *prometheus.CounterVec
	polls         prometheus.Counter
	polled        prometheus.Counter
	conversations prometheus.Counter
	sweptKeys     prometheus.Counter
	storeLatency  *prometheus.HistogramVec
}

// NewMetrics builds the collectors and registers them on reg (skipped when reg is nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "communicator",
			Name:      "messages_stored_total",
			Help:      "Messages newly appended to the store.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "communicator",
			Name:      "messages_duplicate_total",
			Help:      "Sends answered from an existing idempotency key.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "communicator",
			Name:      "messages_rejected_total",
			Help:      "Sends rejected before reaching the store, by reason.",
		}, []string{"reason"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "communicator",
			Name:      "polls_total",
			Help:      "New-message polls served.",
		}),
		polled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "communicator",
			Name:      "polled_messages_total",
			Help:      "Messages returned by new-message polls.",
		}),
		conversations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "communicator",
			Name:      "conversation_fetches_total",
			Help:      "Conversation history fetches served.",
		}),
		sweptKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "communicator",
			Name:      "idempotency_keys_swept_total",
			Help:      "Idempotency keys removed after their retention window.",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "communicator",
			Name:      "store_op_duration_seconds",
			Help:      "Message store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(m.sent, m.duplicates, m.rejected, m.polls, m.polled, m.conversations, m.sweptKeys, m.storeLatency)
	}
	return m
}

func (m *Metrics) observeStore(op string, start time.Time) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) stored(duplicated bool) {
	if m == nil {
		return
	}
	if duplicated {
		m.duplicates.Inc()
		return
	}
	m.sent.Inc()
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) poll(n int) {
	if m == nil {
		return
	}
	m.polls.Inc()
	m.polled.Add(float64(n))
}

func (m *Metrics) conversation() {
	if m == nil {
		return
	}
	m.conversations.Inc()
}

func (m *Metrics) swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptKeys.Add(float64(n))
}
