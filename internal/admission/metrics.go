package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weathergate_admissions_total",
		Help: "Admission decisions by outcome.",
	}, []string{"outcome"})

	blocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathergate_client_blocks_total",
		Help: "Clients blocked for suspicious activity.",
	})
)
