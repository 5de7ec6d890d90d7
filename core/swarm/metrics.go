package swarm

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal    *prometheus.CounterVec
	operationLatency   *prometheus.HistogramVec
	activeSlots        prometheus.Gauge
	pendingEmergencies prometheus.Gauge
	ledgerFailures     prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge, prometheus.Gauge, prometheus.Counter) {
	ops := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_operations_total",
			Help: "Number of coordination operations by result",
		},
		[]string{"operation", "result"},
	)
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_operation_duration_seconds",
			Help:    "Duration of coordination operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	slots := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_active_slots",
			Help: "Number of admitted airspace slots",
		},
	)
	pending := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_pending_emergencies",
			Help: "Number of emergency requests awaiting completion",
		},
	)
	led := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarm_ledger_failures_total",
			Help: "Number of failed ledger writes",
		},
	)
	return ops, lat, slots, pending, led
}

func init() {
	operationsTotal, operationLatency, activeSlots, pendingEmergencies, ledgerFailures = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers the coordinator metrics on the provided
// registry. If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(operationsTotal, operationLatency, activeSlots, pendingEmergencies, ledgerFailures)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	operationsTotal, operationLatency, activeSlots, pendingEmergencies, ledgerFailures = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
