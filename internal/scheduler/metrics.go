package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathergate_refresh_cycles_total",
		Help: "Completed scheduled refresh cycles.",
	})

	refreshErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathergate_refresh_errors_total",
		Help: "Per-place failures during refresh cycles.",
	})

	alertsTriggeredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathergate_alerts_triggered_total",
		Help: "Alert rule triggers across all evaluation cycles.",
	})
)
