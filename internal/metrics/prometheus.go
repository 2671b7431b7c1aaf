// internal/metrics/prometheus.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stearz/Nagstamon/internal/status"
)

// Prometheus metrics
var (
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nagstamon_cycle_duration_seconds",
			Help:    "Time spent fetching and normalizing one backend cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "result"},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nagstamon_cycles_total",
			Help: "Total number of fetch cycles executed",
		},
		[]string{"backend", "result"},
	)

	SkippedCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nagstamon_cycles_skipped_total",
			Help: "Cycles skipped because the previous one was still running",
		},
		[]string{"backend"},
	)

	SnapshotHosts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nagstamon_snapshot_hosts",
			Help: "Number of hosts in the latest successful snapshot",
		},
		[]string{"backend"},
	)

	SnapshotServices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nagstamon_snapshot_services",
			Help: "Number of services in the latest successful snapshot",
		},
		[]string{"backend"},
	)

	LastSuccessTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nagstamon_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cycle per backend",
		},
		[]string{"backend"},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nagstamon_actions_total",
			Help: "Write actions dispatched to backends",
		},
		[]string{"backend", "action", "result"},
	)
)

type Collector struct{}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) RecordCycle(backend string, ok bool, duration time.Duration) {
	result := resultLabel(ok)
	CycleDuration.WithLabelValues(backend, result).Observe(duration.Seconds())
	CyclesTotal.WithLabelValues(backend, result).Inc()
	if ok {
		LastSuccessTimestamp.WithLabelValues(backend).SetToCurrentTime()
	}
}

func (c *Collector) RecordSkippedCycle(backend string) {
	SkippedCycles.WithLabelValues(backend).Inc()
}

func (c *Collector) UpdateSnapshot(snapshot *status.Snapshot) {
	SnapshotHosts.WithLabelValues(snapshot.Backend).Set(float64(snapshot.HostCount()))
	SnapshotServices.WithLabelValues(snapshot.Backend).Set(float64(snapshot.ServiceCount()))
}

func (c *Collector) RecordAction(backend, action string, err error) {
	ActionsTotal.WithLabelValues(backend, action, resultLabel(err == nil)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
