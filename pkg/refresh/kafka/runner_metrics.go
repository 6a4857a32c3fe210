package kafka

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/mapbook-query/internal/refresh"
)

// op label for messages that never decoded into an event
const opUnknown = "unknown"

type metricSet struct {
	msgs        *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	invalidated *prometheus.CounterVec
	revision    *prometheus.GaugeVec
	proc        *prometheus.HistogramVec
	lagGauge    prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		msgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_msgs_total",
				Help: "Map source refresh messages by op (refresh, clear) and result.",
			},
			[]string{"op", "result"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_outcomes_total",
				Help: "Refresh events by op and outcome: applied, stale (revision not newer) or duplicate.",
			},
			[]string{"op", "outcome"},
		),
		invalidated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_invalidated_results_total",
				Help: "Cached layer results removed by refresh events, per map source.",
			},
			[]string{"source"},
		),
		revision: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "refresh_source_revision",
				Help: "Latest revision applied to each map source.",
			},
			[]string{"source"},
		),
		proc: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_processing_seconds",
				Help:    "End-to-end processing time for one message.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"op"},
		),
		lagGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "refresh_lag_seconds",
				Help: "Approximate lag: now - message.timestamp.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.msgs, m.outcomes, m.invalidated, m.revision, m.proc, m.lagGauge)
	}
	return m
}

func opLabel(op string) string {
	switch op {
	case refresh.OpRefresh, refresh.OpClear:
		return op
	}
	return opUnknown
}

func (m *metricSet) message(op string, err error, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.msgs.WithLabelValues(opLabel(op), result).Inc()
	if dur > 0 {
		m.proc.WithLabelValues(opLabel(op)).Observe(dur.Seconds())
	}
}

func (m *metricSet) duplicate(ev refresh.Event) {
	m.outcomes.WithLabelValues(opLabel(ev.Op), "duplicate").Inc()
}

func (m *metricSet) applied(ev refresh.Event, out refresh.Outcome) {
	if out.Stale {
		m.outcomes.WithLabelValues(opLabel(ev.Op), "stale").Inc()
		return
	}
	m.outcomes.WithLabelValues(opLabel(ev.Op), "applied").Inc()
	m.revision.WithLabelValues(ev.Source).Set(float64(out.Revision))
	if out.Removed > 0 {
		m.invalidated.WithLabelValues(ev.Source).Add(float64(out.Removed))
	}
}

// revisionLabel renders a requested revision; 0 asks for a bump.
func revisionLabel(rev uint64) string {
	if rev == 0 {
		return "bump"
	}
	return strconv.FormatUint(rev, 10)
}
