package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Scheduler ticker metrics
	ActionsExecuted prometheus.Counter
	ActionsSkipped  prometheus.Counter
	ActionsFailed   prometheus.Counter
	TickDuration    prometheus.Histogram

	// Admin command metrics
	CommandsTotal *prometheus.CounterVec
}

// New creates the application metrics. Collectors are not registered here so
// tests can build throwaway instances; callers register via Register.
func New(namespace string) *Metrics {
	return &Metrics{
		ActionsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_actions_executed_total",
			Help:      "Total number of due scheduled actions executed",
		}),
		ActionsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_actions_skipped_total",
			Help:      "Total number of due scheduled actions skipped because another actor resolved them first",
		}),
		ActionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_actions_failed_total",
			Help:      "Total number of due scheduled actions marked failed",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent scanning and executing due scheduled actions",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_commands_total",
			Help:      "Total number of admin lifecycle commands",
		}, []string{"command", "status"}),
	}
}

// Register registers all collectors with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ActionsExecuted,
		m.ActionsSkipped,
		m.ActionsFailed,
		m.TickDuration,
		m.CommandsTotal,
	)
}
