package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/skyswarm/core/events"
)

// Subscriber is the subscription side of the event bus.
type Subscriber interface {
	Subscribe() <-chan events.Event
	Unsubscribe(<-chan events.Event)
}

// StartEventCollector counts bus events per kind in swarm_bus_events_total
// until ctx is cancelled or the bus is closed. The returned channel is closed
// when the collector has stopped.
func StartEventCollector(ctx context.Context, bus Subscriber, reg prometheus.Registerer) (<-chan struct{}, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_bus_events_total",
		Help: "Events published on the coordination bus",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	for _, k := range events.Kinds() {
		counter.WithLabelValues(k.String())
	}
	done := make(chan struct{})
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				counter.WithLabelValues(ev.Kind.String()).Inc()
			}
		}
	}()
	return done, nil
}
