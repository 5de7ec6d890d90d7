package metrics

// MultiSink fans records out to several sinks. Optional recorders are only
// forwarded to sinks that implement them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordReservation forwards the record to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordReservation(ev ReservationEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordReservation(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordConflict forwards conflict events.
func (m *MultiSink) RecordConflict(ev ConflictEvent) error {
	return forward(m.Sinks, func(r ConflictRecorder) error { return r.RecordConflict(ev) })
}

// RecordRoute forwards route events.
func (m *MultiSink) RecordRoute(ev RouteEvent) error {
	return forward(m.Sinks, func(r RouteRecorder) error { return r.RecordRoute(ev) })
}

// RecordDecision forwards navigation decisions.
func (m *MultiSink) RecordDecision(ev DecisionEvent) error {
	return forward(m.Sinks, func(r DecisionRecorder) error { return r.RecordDecision(ev) })
}

// RecordEmergency forwards emergency events.
func (m *MultiSink) RecordEmergency(ev EmergencyEvent) error {
	return forward(m.Sinks, func(r EmergencyRecorder) error { return r.RecordEmergency(ev) })
}

// RecordWorkload forwards workload snapshots.
func (m *MultiSink) RecordWorkload(ev WorkloadEvent) error {
	return forward(m.Sinks, func(r WorkloadRecorder) error { return r.RecordWorkload(ev) })
}

func forward[R any](sinks []MetricsSink, call func(R) error) error {
	for _, s := range sinks {
		if r, ok := s.(R); ok {
			if err := call(r); err != nil {
				return err
			}
		}
	}
	return nil
}
