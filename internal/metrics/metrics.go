package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder exposes counters for the coordination core. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	transitions      *prometheus.CounterVec
	sosDispatch      *prometheus.CounterVec
	locationAttempts *prometheus.CounterVec
	locationLatency  *prometheus.HistogramVec
	roomDecisions    *prometheus.CounterVec
	alertDeliveries  *prometheus.CounterVec
	feedDeliveries   *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	m := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment transition requests by edge and outcome",
		}, []string{"from", "to", "outcome"}),
		sosDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "sos",
			Name:      "dispatch_total",
			Help:      "SOS pipeline runs by outcome",
		}, []string{"outcome"}),
		locationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "sos",
			Name:      "location_attempts_total",
			Help:      "Location acquisition attempts by accuracy and outcome",
		}, []string{"accuracy", "outcome"}),
		locationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "care",
			Subsystem: "sos",
			Name:      "location_latency_seconds",
			Help:      "Time spent in a single location attempt",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 4, 5, 6},
		}, []string{"accuracy"}),
		roomDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "room",
			Name:      "access_decisions_total",
			Help:      "Video room access decisions",
		}, []string{"role", "decision"}),
		alertDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "alerts",
			Name:      "deliveries_total",
			Help:      "Outbound emergency alert deliveries",
		}, []string{"status"}),
		feedDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care",
			Subsystem: "dashboard",
			Name:      "snapshots_total",
			Help:      "Authoritative snapshots pushed to dashboards",
		}, []string{"collection"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.transitions,
		m.sosDispatch,
		m.locationAttempts,
		m.locationLatency,
		m.roomDecisions,
		m.alertDeliveries,
		m.feedDeliveries,
	)
	return m
}

func (m *Recorder) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, outcome).Inc()
}

func (m *Recorder) ObserveDispatch(outcome string) {
	if m == nil {
		return
	}
	m.sosDispatch.WithLabelValues(outcome).Inc()
}

func (m *Recorder) ObserveLocationAttempt(accuracy, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.locationAttempts.WithLabelValues(accuracy, outcome).Inc()
	m.locationLatency.WithLabelValues(accuracy).Observe(seconds)
}

func (m *Recorder) ObserveRoomDecision(role string, granted bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if granted {
		decision = "grant"
	}
	m.roomDecisions.WithLabelValues(role, decision).Inc()
}

func (m *Recorder) ObserveAlert(status string) {
	if m == nil {
		return
	}
	m.alertDeliveries.WithLabelValues(status).Inc()
}

func (m *Recorder) ObserveSnapshot(collection string) {
	if m == nil {
		return
	}
	m.feedDeliveries.WithLabelValues(collection).Inc()
}
