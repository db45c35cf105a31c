package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

// Metrics counts supervisor activity. A nil *Metrics is a no-op.
type Metrics struct {
	spawns   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics registers the supervisor counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		spawns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stayblocked_child_spawn_total",
				Help: "Total number of successful child spawns.",
			},
			[]string{"role"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stayblocked_child_failure_total",
				Help: "Total number of unplanned child exits and spawn failures.",
			},
			[]string{"role", "reason"},
		),
	}
	reg.MustRegister(m.spawns, m.failures)
	return m
}

func (m *Metrics) spawned(role domain.ProcessRole) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) failed(role domain.ProcessRole, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(role), reason).Inc()
}
