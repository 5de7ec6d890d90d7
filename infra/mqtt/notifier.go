package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kilianp07/skyswarm/core/events"
	"github.com/kilianp07/skyswarm/core/logger"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Subscriber is the subscription side of the event bus.
type Subscriber interface {
	Subscribe() <-chan events.Event
	Unsubscribe(<-chan events.Event)
}

// Notifier forwards bus events to <prefix>/<kind> as JSON.
type Notifier struct {
	pub    Publisher
	prefix string
	qos    byte
	log    logger.Logger
}

// NewNotifier returns a notifier publishing under cfg.EventPrefix.
func NewNotifier(pub Publisher, cfg Config, log logger.Logger) *Notifier {
	cfg.SetDefaults()
	return &Notifier{pub: pub, prefix: strings.TrimSuffix(cfg.EventPrefix, "/"), qos: cfg.qos("event"), log: log}
}

// Topic returns the topic an event kind is published on.
func (n *Notifier) Topic(k events.Kind) string {
	return n.prefix + "/" + k.String()
}

// Notify publishes a single event.
func (n *Notifier) Notify(ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.Topic(ev.Kind), n.qos, payload)
}

// Start forwards events from bus until ctx is cancelled or the bus closes.
// Failed publishes are logged and dropped. The returned channel is closed
// once forwarding has stopped.
func (n *Notifier) Start(ctx context.Context, bus Subscriber) <-chan struct{} {
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
				if err := n.Notify(ev); err != nil {
					n.log.Errorf("forward %s %s: %v", ev.Kind, ev.ID, err)
				}
			}
		}
	}()
	return done
}
