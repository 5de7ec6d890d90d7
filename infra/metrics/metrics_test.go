package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/skyswarm/core/events"
	coremetrics "github.com/kilianp07/skyswarm/core/metrics"
	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/internal/eventbus"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	_ = sink.RecordReservation(coremetrics.ReservationEvent{Priority: model.PriorityEmergency, Conflicts: 1})
	_ = sink.RecordConflict(coremetrics.ConflictEvent{Kind: model.ConflictTimeOverlap, Severity: model.SeverityMajor, Strategy: model.StrategyTimeShift, Resolved: true})
	_ = sink.RecordWorkload(coremetrics.WorkloadEvent{Region: "north", Workload: map[string]int{"d1": 3}})

	if v := testutil.ToFloat64(sink.reservations.WithLabelValues("emergency", "true")); v != 1 {
		t.Fatalf("reservations = %v", v)
	}
	if v := testutil.ToFloat64(sink.conflicts.WithLabelValues("time_overlap", "major", "time_shift", "resolved")); v != 1 {
		t.Fatalf("conflicts = %v", v)
	}
	if v := testutil.ToFloat64(sink.workload.WithLabelValues("north", "d1")); v != 3 {
		t.Fatalf("workload = %v", v)
	}
}

func TestPromSinkReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second registration should reuse collectors: %v", err)
	}
	_ = a.RecordReservation(coremetrics.ReservationEvent{})
	_ = b.RecordReservation(coremetrics.ReservationEvent{})
	if v := testutil.ToFloat64(a.reservations.WithLabelValues("normal", "false")); v != 2 {
		t.Fatalf("expected shared counter at 2, got %v", v)
	}
}

func TestEventCollectorCountsKinds(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := eventbus.NewTyped[events.Event]()
	ctx, cancel := context.WithCancel(context.Background())
	done, err := StartEventCollector(ctx, bus, reg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	bus.Publish(events.New(events.KindSlotReserved, "A", time.Now(), nil))
	bus.Publish(events.New(events.KindSlotReserved, "B", time.Now(), nil))
	bus.Close()
	<-done
	cancel()

	counter, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_bus_events_total",
		Help: "Events published on the coordination bus",
	}, []string{"kind"}))
	if err != nil {
		t.Fatalf("lookup counter: %v", err)
	}
	if v := testutil.ToFloat64(counter.WithLabelValues("slot_reserved")); v != 2 {
		t.Fatalf("expected 2 slot_reserved events, got %v", v)
	}
}

func TestFactoryRegistersBuiltins(t *testing.T) {
	s, err := coremetrics.NewMetricsSink(nil)
	if err != nil {
		t.Fatalf("nop: %v", err)
	}
	if _, ok := s.(coremetrics.NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}
}
