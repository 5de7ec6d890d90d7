package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/skyswarm/core/metrics"
	"github.com/kilianp07/skyswarm/infra/logger"
)

// InfluxConfig holds the InfluxDB v2 connection settings.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes coordination events to InfluxDB as line protocol points.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint without checking it.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the instance and returns a NopSink when the
// health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordReservation writes an admitted slot.
func (s *InfluxSink) RecordReservation(ev coremetrics.ReservationEvent) error {
	p := write.NewPointWithMeasurement("airspace_reservation").
		AddTag("agent_id", ev.AgentID).
		AddTag("route_id", ev.RouteID).
		AddTag("priority", ev.Priority.String()).
		AddField("slot_id", ev.SlotID).
		AddField("conflicts", ev.Conflicts).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordConflict writes a conflict state change.
func (s *InfluxSink) RecordConflict(ev coremetrics.ConflictEvent) error {
	p := write.NewPointWithMeasurement("airspace_conflict").
		AddTag("kind", ev.Kind.String()).
		AddTag("severity", ev.Severity.String()).
		AddTag("strategy", ev.Strategy.String()).
		AddTag("resolved", strconv.FormatBool(ev.Resolved)).
		AddField("conflict_id", ev.ConflictID).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordRoute writes the planner figures of a route.
func (s *InfluxSink) RecordRoute(ev coremetrics.RouteEvent) error {
	p := write.NewPointWithMeasurement("route_planned").
		AddTag("agent_id", ev.AgentID).
		AddField("route_id", ev.RouteID).
		AddField("distance_km", round3(ev.DistanceKm)).
		AddField("duration_s", round3(ev.Duration.Seconds())).
		AddField("energy_wh", round3(ev.EnergyWh)).
		AddField("score", round3(ev.Score)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordDecision writes a navigation decision.
func (s *InfluxSink) RecordDecision(ev coremetrics.DecisionEvent) error {
	p := write.NewPointWithMeasurement("navigation_decision").
		AddTag("agent_id", ev.AgentID).
		AddTag("kind", ev.Kind.String()).
		AddTag("action", ev.Action.String()).
		AddTag("mode", ev.Mode.String()).
		AddField("confidence", ev.Confidence).
		AddField("outcome", ev.Outcome.String()).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordEmergency writes a dispatch or completion.
func (s *InfluxSink) RecordEmergency(ev coremetrics.EmergencyEvent) error {
	p := write.NewPointWithMeasurement("emergency_response").
		AddTag("agent_id", ev.AgentID).
		AddTag("response_type", ev.Response.String()).
		AddTag("completed", strconv.FormatBool(ev.Completed)).
		AddField("request_id", ev.RequestID).
		AddField("response_id", ev.ResponseID).
		AddField("responders", ev.Responders).
		AddField("estimated_s", round3(ev.Estimated.Seconds())).
		AddField("cost", round3(ev.Cost))
	if ev.Completed {
		p = p.AddField("actual_s", round3(ev.Actual.Seconds())).
			AddField("success_rate", ev.SuccessRate)
	}
	return s.write(p.SetTime(ev.Time))
}

// RecordWorkload writes one point per agent.
func (s *InfluxSink) RecordWorkload(ev coremetrics.WorkloadEvent) error {
	for id, n := range ev.Workload {
		p := write.NewPointWithMeasurement("agent_workload").
			AddTag("region", ev.Region).
			AddTag("agent_id", id).
			AddTag("strategy", ev.Strategy).
			AddField("items", n).
			AddField("pending", ev.Pending).
			SetTime(ev.Time)
		if err := s.write(p); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
