// Package swarm exposes the coordination engine. A single actor goroutine
// serializes airspace, emergency, load balancing and agent registry
// mutations; navigation engines run in parallel, one per agent.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kilianp07/skyswarm/core/airspace"
	"github.com/kilianp07/skyswarm/core/auditlog"
	"github.com/kilianp07/skyswarm/core/emergency"
	"github.com/kilianp07/skyswarm/core/events"
	"github.com/kilianp07/skyswarm/core/ledger"
	"github.com/kilianp07/skyswarm/core/loadbalance"
	"github.com/kilianp07/skyswarm/core/logger"
	"github.com/kilianp07/skyswarm/core/metrics"
	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/core/navigation"
	"github.com/kilianp07/skyswarm/core/planner"
)

const tracerName = "github.com/kilianp07/skyswarm/core/swarm"

// ErrClosed is returned by operations submitted after Run has returned.
var ErrClosed = errors.New("swarm: coordinator closed")

// Config groups the component settings.
type Config struct {
	Planner     planner.Config     `json:"planner"`
	Airspace    airspace.Config    `json:"airspace"`
	Emergency   emergency.Config   `json:"emergency"`
	LoadBalance loadbalance.Config `json:"loadbalance"`
	Navigation  navigation.Config  `json:"navigation"`
	// Treasury is the settlement account paying emergency responders.
	Treasury string `json:"treasury"`
	// AutoDispatch raises an emergency request when an agent enters an
	// emergency landing.
	AutoDispatch bool `json:"auto_dispatch"`
	// AutoReroute replaces the route and slot of an agent turning around
	// a weather cell.
	AutoReroute bool `json:"auto_reroute"`
	QueueSize   int  `json:"queue_size"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	c.Planner.SetDefaults()
	c.Airspace.SetDefaults()
	c.Emergency.SetDefaults()
	c.LoadBalance.SetDefaults()
	c.Navigation.SetDefaults()
	if c.Treasury == "" {
		c.Treasury = "fleet-treasury"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// Validate checks every component section.
func (c Config) Validate() error {
	if err := c.Planner.Validate(); err != nil {
		return err
	}
	if err := c.Airspace.Validate(); err != nil {
		return err
	}
	if err := c.Emergency.Validate(); err != nil {
		return err
	}
	return c.LoadBalance.Validate()
}

// Deps are the external collaborators. Nil fields get in-memory or no-op
// implementations.
type Deps struct {
	Ledger     ledger.Ledger
	Settlement ledger.Settlement
	Registry   ledger.Registry
	Publisher  events.Publisher
	Metrics    metrics.MetricsSink
	Audit      auditlog.Store
	Tracer     trace.Tracer
	Log        logger.Logger
}

func (d *Deps) setDefaults() {
	if d.Ledger == nil {
		d.Ledger = ledger.NewMemoryLedger()
	}
	if d.Settlement == nil {
		d.Settlement = ledger.NewMemorySettlement()
	}
	if d.Registry == nil {
		d.Registry = ledger.NewMemoryRegistry(true)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NopSink{}
	}
	if d.Audit == nil {
		d.Audit = auditlog.NopStore{}
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
}

type op struct {
	fn   func()
	done chan struct{}
}

// Coordinator is the public surface of the coordination engine.
type Coordinator struct {
	cfg  Config
	deps Deps
	log  logger.Logger
	now  func() time.Time

	planner   *planner.Planner
	airspace  *airspace.Coordinator
	emergency *emergency.Dispatcher
	balancer  *loadbalance.Balancer
	fleet     *navigation.Fleet

	ops     chan op
	stopped chan struct{}
	once    sync.Once

	mu     sync.RWMutex
	agents map[string]model.Agent
	// rescue marks agents with an automatic emergency request in flight.
	rescue map[string]bool
	hooks  sync.WaitGroup
}

// New builds the components from cfg and wires them to deps.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps.setDefaults()
	log := deps.Log
	if log == nil {
		return nil, fmt.Errorf("swarm: logger is required")
	}
	em, err := emergency.New(cfg.Emergency, log)
	if err != nil {
		return nil, err
	}
	lb, err := loadbalance.New(cfg.LoadBalance, log)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:       cfg,
		deps:      deps,
		log:       log,
		now:       time.Now,
		planner:   planner.New(cfg.Planner, log),
		airspace:  airspace.New(cfg.Airspace, log),
		emergency: em,
		balancer:  lb,
		ops:       make(chan op, cfg.QueueSize),
		stopped:   make(chan struct{}),
		agents:    make(map[string]model.Agent),
		rescue:    make(map[string]bool),
	}
	c.airspace.SetRerouter(airspace.RerouterFunc(c.reroute))
	dr, _ := deps.Metrics.(metrics.DecisionRecorder)
	c.fleet = navigation.NewFleet(cfg.Navigation, navigation.Options{
		Publisher:   deps.Publisher,
		Metrics:     dr,
		OnEmergency: c.onEmergency,
		OnReroute:   c.onReroute,
		Log:         log,
	})
	return c, nil
}

// Run serves submitted operations until ctx is done. It also drives the
// telemetry loops of the navigation engines.
func (c *Coordinator) Run(ctx context.Context) {
	c.fleet.Start(ctx)
	defer c.once.Do(func() { close(c.stopped) })
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-c.ops:
			o.fn()
			close(o.done)
		}
	}
}

// Close stops the navigation loops and waits for pending hooks. Run must
// have returned or its context be cancelled.
func (c *Coordinator) Close() error {
	c.fleet.Close()
	c.hooks.Wait()
	return c.deps.Audit.Close()
}

// do runs fn on the actor goroutine and waits for it to finish.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case c.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrClosed
	}
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrClosed
	}
}

// start opens a span for a public operation.
func (c *Coordinator) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := c.deps.Tracer.Start(ctx, "swarm."+name, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

// outcome closes the span and records the metrics and audit trail of a
// public operation.
func (c *Coordinator) outcome(ctx context.Context, span trace.Span, name string, began time.Time, agentID string, ids []string, details map[string]any, err error) {
	elapsed := time.Since(began)
	result := "ok"
	rec := auditlog.Record{
		Timestamp: c.now(),
		Operation: name,
		AgentID:   agentID,
		EntityIDs: ids,
		Duration:  elapsed,
		Details:   details,
	}
	if err != nil {
		result = errorKind(err)
		rec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	span.End()
	operationsTotal.WithLabelValues(name, result).Inc()
	operationLatency.WithLabelValues(name).Observe(elapsed.Seconds())
	if aerr := c.deps.Audit.Append(context.WithoutCancel(ctx), rec); aerr != nil {
		c.log.Errorf("audit %s: %v", name, aerr)
	}
}

// errorKind maps an error to a low cardinality label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrResourceUnavailable):
		return "unavailable"
	case errors.Is(err, model.ErrConflictUnresolved):
		return "conflict"
	case errors.Is(err, model.ErrNoRespondersAvailable):
		return "no_responders"
	case errors.Is(err, model.ErrOverload):
		return "overload"
	case errors.Is(err, model.ErrStrategyNotImplemented):
		return "not_implemented"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrClosed):
		return "cancelled"
	default:
		return "error"
	}
}

// persist commits entities to the ledger. Failures are logged and counted;
// the in-memory state stays authoritative.
func (c *Coordinator) persist(ctx context.Context, entities ...ledger.Entity) {
	if len(entities) == 0 {
		return
	}
	if err := c.deps.Ledger.Commit(context.WithoutCancel(ctx), entities...); err != nil {
		ledgerFailures.Inc()
		c.log.Errorf("ledger commit of %d entities failed: %v", len(entities), err)
	}
}

func (c *Coordinator) publish(kind events.Kind, agentID string, payload any) {
	if c.deps.Publisher == nil {
		return
	}
	c.deps.Publisher.Publish(events.New(kind, agentID, c.now(), payload))
}

func (c *Coordinator) authorize(ctx context.Context, agentID string) error {
	ok, err := c.deps.Registry.IsAuthorized(ctx, agentID)
	if err != nil {
		return fmt.Errorf("swarm: registry: %w", err)
	}
	if !ok {
		return fmt.Errorf("swarm: agent %s: %w", agentID, model.ErrUnauthorized)
	}
	return nil
}

func (c *Coordinator) agent(id string) (model.Agent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	if !ok {
		return model.Agent{}, fmt.Errorf("swarm: agent %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

// reroute backs the airspace Reroute strategy with the planner.
func (c *Coordinator) reroute(route model.Route, offsetKm float64) (model.Route, error) {
	a, err := c.agent(route.AgentID)
	if err != nil {
		a = model.Agent{ID: route.AgentID, Available: true}
	}
	return c.planner.Alternate(a, route, offsetKm, model.Weather{})
}

func (c *Coordinator) recordSlots() {
	activeSlots.Set(float64(len(c.airspace.Active())))
}

func (c *Coordinator) recordPending() {
	pendingEmergencies.Set(float64(len(c.emergency.Pending())))
}
