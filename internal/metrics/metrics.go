package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the counters the companion exports on /metrics.
type Collectors struct {
	RemoteRequests  *prometheus.CounterVec
	RemoteLatency   *prometheus.HistogramVec
	AdherenceEvents *prometheus.CounterVec
	MoodSubmissions *prometheus.CounterVec
	SOSTransitions  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "remote_requests_total",
			Help:      "Requests sent to the remote record service.",
		}, []string{"op", "outcome"}),
		RemoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "companion",
			Name:      "remote_request_seconds",
			Help:      "Latency of remote record service requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		AdherenceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "adherence_events_total",
			Help:      "Medication taken/skipped events by outcome.",
		}, []string{"kind", "outcome"}),
		MoodSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "mood_submissions_total",
			Help:      "Mood submissions by mood and outcome.",
		}, []string{"mood", "outcome"}),
		SOSTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "companion",
			Name:      "sos_transitions_total",
			Help:      "Emergency gate transitions by target state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(c.RemoteRequests, c.RemoteLatency, c.AdherenceEvents, c.MoodSubmissions, c.SOSTransitions)
	}
	return c
}

// Outcome maps an error to a metric label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// The helpers below accept a nil receiver so components can run without
// metrics in tests.

func (c *Collectors) ObserveRemote(op string, started time.Time, err error) {
	if c == nil {
		return
	}
	c.RemoteRequests.WithLabelValues(op, Outcome(err)).Inc()
	c.RemoteLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (c *Collectors) ObserveAdherence(skipped bool, err error) {
	if c == nil {
		return
	}
	kind := "taken"
	if skipped {
		kind = "skipped"
	}
	c.AdherenceEvents.WithLabelValues(kind, Outcome(err)).Inc()
}

func (c *Collectors) ObserveMood(mood string, err error) {
	if c == nil {
		return
	}
	c.MoodSubmissions.WithLabelValues(mood, Outcome(err)).Inc()
}

func (c *Collectors) ObserveSOS(state string) {
	if c == nil {
		return
	}
	c.SOSTransitions.WithLabelValues(state).Inc()
}
