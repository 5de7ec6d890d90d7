// Package nats forwards coordination events to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kilianp07/skyswarm/core/events"
	"github.com/kilianp07/skyswarm/core/logger"
)

// Config holds the NATS connection settings.
type Config struct {
	Enabled         bool   `json:"enabled"`
	URL             string `json:"url"`
	Name            string `json:"name"`
	SubjectPrefix   string `json:"subject_prefix"`
	MaxReconnects   int    `json:"max_reconnects"`
	ReconnectWaitMS int    `json:"reconnect_wait_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "skyswarm"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "swarm.events"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
	if c.ReconnectWaitMS <= 0 {
		c.ReconnectWaitMS = 1000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if strings.ContainsAny(c.SubjectPrefix, " *>") {
		return fmt.Errorf("nats: subject_prefix %q must not contain wildcards", c.SubjectPrefix)
	}
	return nil
}

// Conn is the subset of *nats.Conn used by the notifier.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Subscriber is the subscription side of the event bus.
type Subscriber interface {
	Subscribe() <-chan events.Event
	Unsubscribe(<-chan events.Event)
}

// Connect dials the server described by cfg.
func Connect(cfg Config, log logger.Logger) (*nats.Conn, error) {
	cfg.SetDefaults()
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWaitMS)*time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Notifier publishes bus events as JSON on <prefix>.<kind>.
type Notifier struct {
	conn   Conn
	prefix string
	log    logger.Logger
}

// NewNotifier returns a notifier bound to conn.
func NewNotifier(conn Conn, cfg Config, log logger.Logger) *Notifier {
	cfg.SetDefaults()
	return &Notifier{conn: conn, prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."), log: log}
}

// Subject returns the subject an event kind is published on.
func (n *Notifier) Subject(k events.Kind) string {
	return n.prefix + "." + k.String()
}

// Notify publishes a single event.
func (n *Notifier) Notify(ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Start forwards events from bus until ctx is cancelled or the bus closes.
// The returned channel is closed once forwarding has stopped.
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
					n.log.Errorf("forward %s: %v", ev.ID, err)
				}
			}
		}
	}()
	return done
}

// Close drains the connection.
func (n *Notifier) Close() error {
	return n.conn.Drain()
}
