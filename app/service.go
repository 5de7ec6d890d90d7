// Package app wires the coordination engine to its transports and stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	apiairspace "github.com/kilianp07/skyswarm/api/airspace"
	apiaudit "github.com/kilianp07/skyswarm/api/audit"
	apiemergency "github.com/kilianp07/skyswarm/api/emergency"
	apinavigation "github.com/kilianp07/skyswarm/api/navigation"
	"github.com/kilianp07/skyswarm/config"
	"github.com/kilianp07/skyswarm/core/auditlog"
	"github.com/kilianp07/skyswarm/core/events"
	coremetrics "github.com/kilianp07/skyswarm/core/metrics"
	"github.com/kilianp07/skyswarm/core/swarm"
	infraledger "github.com/kilianp07/skyswarm/infra/ledger"
	"github.com/kilianp07/skyswarm/infra/logger"
	inframetrics "github.com/kilianp07/skyswarm/infra/metrics"
	"github.com/kilianp07/skyswarm/infra/mqtt"
	infranats "github.com/kilianp07/skyswarm/infra/nats"
	"github.com/kilianp07/skyswarm/infra/tracing"
	"github.com/kilianp07/skyswarm/internal/eventbus"
)

// Service runs the coordinator together with its notifiers, telemetry
// ingestion and HTTP endpoints.
type Service struct {
	Coordinator *swarm.Coordinator

	cfg      *config.Config
	bus      *eventbus.TypedBus[events.Event]
	log      logger.Logger
	sink     coremetrics.MetricsSink
	audit    auditlog.Store
	redis    *infraledger.Client
	mqtt     *mqtt.Client
	nats     *infranats.Notifier
	shutdown tracing.Shutdown
}

// New creates a Service from the configuration. Connections opened before a
// failure are released.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	s := &Service{cfg: cfg, log: logger.New("service"), bus: eventbus.NewTyped[events.Event]()}
	defer func() {
		if err != nil {
			if s.audit != nil {
				_ = s.audit.Close()
			}
			s.release()
		}
	}()

	if s.shutdown, err = tracing.Init(ctx, cfg.Tracing, logger.New("tracing")); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	if s.audit, err = auditlog.NewStore(cfg.Audit.Module()); err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}

	deps := swarm.Deps{
		Publisher: s.bus,
		Metrics:   s.sink,
		Audit:     s.audit,
		Log:       logger.New("swarm"),
	}
	if cfg.Ledger.Backend == "redis" {
		if s.redis, err = infraledger.NewClient(ctx, cfg.Ledger.Redis); err != nil {
			return nil, err
		}
		deps.Ledger = infraledger.NewLedger(s.redis)
		deps.Registry = infraledger.NewRegistry(s.redis)
		deps.Settlement = infraledger.NewSettlement(s.redis)
	}
	if s.Coordinator, err = swarm.New(cfg.SwarmConfig(), deps); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	if cfg.MQTT.Enabled {
		if s.mqtt, err = mqtt.NewClient(cfg.MQTT, logger.New("mqtt")); err != nil {
			return nil, err
		}
		h := mqtt.NewTelemetryHandler(s.Coordinator, 0, logger.New("telemetry"))
		if err = mqtt.SubscribeTelemetry(s.mqtt, cfg.MQTT, h); err != nil {
			return nil, err
		}
	}
	if cfg.NATS.Enabled {
		conn, cerr := infranats.Connect(cfg.NATS, logger.New("nats"))
		if cerr != nil {
			return nil, cerr
		}
		s.nats = infranats.NewNotifier(conn, cfg.NATS, logger.New("nats"))
	}
	return s, nil
}

// Routes returns the HTTP API served next to /metrics.
func (s *Service) Routes() map[string]http.Handler {
	return map[string]http.Handler{
		"/api/airspace/slots":     apiairspace.NewSlotsHandler(s.Coordinator),
		"/api/airspace/conflicts": apiairspace.NewConflictsHandler(s.Coordinator),
		"/api/emergencies":        apiemergency.NewHandler(s.Coordinator),
		"/api/navigation":         apinavigation.NewStateHandler(s.Coordinator),
		"/api/audit":              apiaudit.NewHandler(s.audit, s.cfg.Audit.Token),
	}
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	collected, err := inframetrics.StartEventCollector(ctx, s.bus, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("event collector: %w", err)
	}
	var forwarders []<-chan struct{}
	if s.mqtt != nil {
		forwarders = append(forwarders, mqtt.NewNotifier(s.mqtt, s.cfg.MQTT, logger.New("mqtt")).Start(ctx, s.bus))
	}
	if s.nats != nil {
		forwarders = append(forwarders, s.nats.Start(ctx, s.bus))
	}
	forwarders = append(forwarders, rebalanceLoop(ctx, s.Coordinator, s.cfg.LoadBalance.RebalanceInterval, logger.New("rebalance")))

	httpErr := make(chan error, 1)
	go func() { httpErr <- inframetrics.StartPromServer(ctx, s.cfg.HTTP.Addr, s.Routes()) }()
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" && addr != s.cfg.HTTP.Addr {
		go func() {
			if err := inframetrics.StartPromServer(ctx, addr, nil); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	s.log.Infof("coordinator serving on %s", s.cfg.HTTP.Addr)

	runDone := make(chan struct{})
	go func() {
		s.Coordinator.Run(ctx)
		close(runDone)
	}()

	select {
	case err = <-httpErr:
		if err != nil {
			s.log.Errorf("http server: %v", err)
		}
		cancel()
	case <-ctx.Done():
		err = <-httpErr
	}
	<-runDone
	<-collected
	for _, f := range forwarders {
		<-f
	}
	return err
}

// Close releases resources held by the service. Run must have returned.
func (s *Service) Close() error {
	var errs []error
	if s.Coordinator != nil {
		errs = append(errs, s.Coordinator.Close())
	} else if s.audit != nil {
		errs = append(errs, s.audit.Close())
	}
	s.release()
	return errors.Join(errs...)
}

func (s *Service) release() {
	s.bus.Close()
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			s.log.Warnf("nats drain: %v", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warnf("redis close: %v", err)
		}
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	tracing.ShutdownWithTimeout(context.Background(), s.shutdown, s.log)
}
