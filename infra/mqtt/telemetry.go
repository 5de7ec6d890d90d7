package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/skyswarm/core/logger"
	"github.com/kilianp07/skyswarm/core/navigation"
)

// Ingester accepts decoded telemetry. swarm.Coordinator satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, t navigation.Telemetry) error
}

// TelemetryHandler decodes agent reports published on
// swarm/agent/<id>/telemetry and queues them on the navigation streams.
type TelemetryHandler struct {
	sink    Ingester
	log     logger.Logger
	timeout time.Duration
}

// NewTelemetryHandler returns a handler that waits at most timeout for a
// stream slot before dropping a report.
func NewTelemetryHandler(sink Ingester, timeout time.Duration, log logger.Logger) *TelemetryHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TelemetryHandler{sink: sink, log: log, timeout: timeout}
}

// Handle implements paho.MessageHandler.
func (h *TelemetryHandler) Handle(_ paho.Client, msg paho.Message) {
	t, err := decodeTelemetry(msg.Topic(), msg.Payload())
	if err != nil {
		h.log.Warnf("drop telemetry on %s: %v", msg.Topic(), err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.sink.Ingest(ctx, t); err != nil {
		h.log.Warnf("ingest telemetry for %s: %v", t.AgentID, err)
	}
}

// SubscribeTelemetry wires h to the telemetry topic of cfg.
func SubscribeTelemetry(c *Client, cfg Config, h *TelemetryHandler) error {
	cfg.SetDefaults()
	return c.Subscribe(cfg.TelemetryTopic, cfg.qos("telemetry"), h.Handle)
}

// decodeTelemetry parses a report. The agent segment of the topic fills a
// missing agent_id and must match a present one.
func decodeTelemetry(topic string, payload []byte) (navigation.Telemetry, error) {
	var t navigation.Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, err
	}
	agent := agentFromTopic(topic)
	switch {
	case t.AgentID == "" && agent == "":
		return t, errMissingAgent
	case t.AgentID == "":
		t.AgentID = agent
	case agent != "" && agent != t.AgentID:
		return t, errAgentMismatch
	}
	return t, nil
}

// agentFromTopic extracts <id> from .../agent/<id>/telemetry.
func agentFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "agent" && parts[i+2] == "telemetry" {
			return parts[i+1]
		}
	}
	return ""
}
