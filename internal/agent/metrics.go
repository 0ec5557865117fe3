package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cdm_agent",
		Name:      "cycles_total",
		Help:      "Polling cycles by result.",
	}, []string{"result"})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cdm_agent",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a polling cycle in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	})

	InstructionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cdm_agent",
		Name:      "instructions_total",
		Help:      "Executed instructions by action and result.",
	}, []string{"action", "result"})

	TorrentsAddedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cdm_agent",
		Name:      "torrents_added_total",
		Help:      "Ordered files added to the torrent client by result.",
	}, []string{"result"})

	StatusPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cdm_agent",
		Name:      "status_pushes_total",
		Help:      "Status snapshots pushed to the order server by result.",
	}, []string{"result"})

	Torrents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cdm_agent",
		Name:      "torrents",
		Help:      "Torrents reported by the client in the last snapshot.",
	})
)

// Register adds all agent metrics to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CyclesTotal,
		CycleDuration,
		InstructionsTotal,
		TorrentsAddedTotal,
		StatusPushesTotal,
		Torrents,
	)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
