package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/skyswarm/core/metrics"
)

// PromSink records coordination activity in Prometheus collectors.
type PromSink struct {
	reservations *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	routeKm      prometheus.Histogram
	routeScore   prometheus.Histogram
	decisions    *prometheus.CounterVec
	emergencies  *prometheus.CounterVec
	responseTime *prometheus.HistogramVec
	workload     *prometheus.GaugeVec
}

// NewPromSink registers the sink collectors on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the sink collectors on reg. A nil
// registerer defaults to the global one. Collectors that are already
// registered are reused so several sinks can share a registry.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.reservations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_slot_reservations_total",
		Help: "Admitted airspace slots",
	}, []string{"priority", "conflicted"})); err != nil {
		return nil, err
	}
	if s.conflicts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_conflicts_total",
		Help: "Airspace conflicts by kind, severity, strategy and state",
	}, []string{"kind", "severity", "strategy", "state"})); err != nil {
		return nil, err
	}
	if s.routeKm, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_route_distance_km",
		Help:    "Distance of planned routes",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50},
	})); err != nil {
		return nil, err
	}
	if s.routeScore, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_route_optimization_score",
		Help:    "Optimization score of planned routes",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})); err != nil {
		return nil, err
	}
	if s.decisions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_navigation_decisions_total",
		Help: "Autonomous navigation decisions",
	}, []string{"kind", "action", "outcome"})); err != nil {
		return nil, err
	}
	if s.emergencies, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_emergency_responses_total",
		Help: "Emergency responses by type and state",
	}, []string{"response_type", "state"})); err != nil {
		return nil, err
	}
	if s.responseTime, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swarm_emergency_response_seconds",
		Help:    "Actual emergency response time",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800},
	}, []string{"response_type"})); err != nil {
		return nil, err
	}
	if s.workload, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_agent_workload",
		Help: "Assigned work items per agent after the last rebalance",
	}, []string{"region", "agent_id"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordReservation counts admitted slots.
func (s *PromSink) RecordReservation(ev coremetrics.ReservationEvent) error {
	s.reservations.WithLabelValues(ev.Priority.String(), strconv.FormatBool(ev.Conflicts > 0)).Inc()
	return nil
}

// RecordConflict counts conflicts by lifecycle state.
func (s *PromSink) RecordConflict(ev coremetrics.ConflictEvent) error {
	state := "detected"
	if ev.Resolved {
		state = "resolved"
	}
	s.conflicts.WithLabelValues(ev.Kind.String(), ev.Severity.String(), ev.Strategy.String(), state).Inc()
	return nil
}

// RecordRoute observes route distance and score.
func (s *PromSink) RecordRoute(ev coremetrics.RouteEvent) error {
	s.routeKm.Observe(ev.DistanceKm)
	s.routeScore.Observe(ev.Score)
	return nil
}

// RecordDecision counts navigation decisions.
func (s *PromSink) RecordDecision(ev coremetrics.DecisionEvent) error {
	s.decisions.WithLabelValues(ev.Kind.String(), ev.Action.String(), ev.Outcome.String()).Inc()
	return nil
}

// RecordEmergency counts dispatches and completions and observes the actual
// response time of completed responses.
func (s *PromSink) RecordEmergency(ev coremetrics.EmergencyEvent) error {
	state := "dispatched"
	if ev.Completed {
		state = "completed"
		s.responseTime.WithLabelValues(ev.Response.String()).Observe(ev.Actual.Seconds())
	}
	s.emergencies.WithLabelValues(ev.Response.String(), state).Inc()
	return nil
}

// RecordWorkload sets the per-agent workload gauges.
func (s *PromSink) RecordWorkload(ev coremetrics.WorkloadEvent) error {
	for id, n := range ev.Workload {
		s.workload.WithLabelValues(ev.Region, id).Set(float64(n))
	}
	return nil
}
