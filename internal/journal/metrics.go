package journal

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the Agency updates at the same
// points it writes journal entries (SPEC_FULL §5.1).
type Metrics struct {
	EntriesTotal *prometheus.CounterVec
}

// NewMetrics registers the journal metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agency_journal_entries_total",
			Help: "Number of journal entries appended, by instance_id kind.",
		}, []string{"instance_kind"}),
	}
	reg.MustRegister(m.EntriesTotal)
	return m
}

// Observe increments the entries counter, classifying agency-level
// entries separately from protocol-instance entries.
func (m *Metrics) Observe(e Entry) {
	if m == nil {
		return
	}
	kind := "protocol"
	if e.InstanceID == AgencyInstanceID {
		kind = "agency"
	}
	m.EntriesTotal.WithLabelValues(kind).Inc()
}
