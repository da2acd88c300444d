package solver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the run counters of one solver, kept in a private registry so that several
// subdomain solvers can live in one process
type Metrics struct {
	Registry     *prometheus.Registry
	RHSCalls     prometheus.Counter
	RHSSeconds   prometheus.Histogram
	SimTime      prometheus.Gauge
	MonitorCalls prometheus.Counter
}

func NewMetrics(rank int) (mt *Metrics) {
	labels := prometheus.Labels{"rank": strconv.Itoa(rank)}
	mt = &Metrics{
		Registry: prometheus.NewRegistry(),
		RHSCalls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   "goplasma",
				Subsystem:   "rhs",
				Name:        "calls_total",
				Help:        "Total number of right hand side evaluations.",
				ConstLabels: labels,
			},
		),
		RHSSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   "goplasma",
				Subsystem:   "rhs",
				Name:        "seconds",
				Help:        "Wall time of right hand side evaluations.",
				Buckets:     prometheus.ExponentialBuckets(1.e-5, 4, 10), // 10us to ~2.6s
				ConstLabels: labels,
			},
		),
		SimTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   "goplasma",
				Name:        "sim_time",
				Help:        "Current simulation time.",
				ConstLabels: labels,
			},
		),
		MonitorCalls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   "goplasma",
				Subsystem:   "monitor",
				Name:        "calls_total",
				Help:        "Total number of output monitor calls.",
				ConstLabels: labels,
			},
		),
	}
	mt.Registry.MustRegister(mt.RHSCalls, mt.RHSSeconds, mt.SimTime, mt.MonitorCalls)
	return
}
