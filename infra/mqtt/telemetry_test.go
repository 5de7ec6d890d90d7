package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/skyswarm/core/navigation"
	"github.com/kilianp07/skyswarm/infra/logger"
)

type recordingIngester struct {
	mu  sync.Mutex
	got []navigation.Telemetry
	err error
}

func (r *recordingIngester) Ingest(_ context.Context, t navigation.Telemetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
	return r.err
}

func TestDecodeTelemetry(t *testing.T) {
	cases := []struct {
		name    string
		topic   string
		payload string
		agent   string
		wantErr error
	}{
		{"agent from topic", "swarm/agent/d1/telemetry", `{"altitude_m":90}`, "d1", nil},
		{"agent in payload", "swarm/agent/d1/telemetry", `{"agent_id":"d1"}`, "d1", nil},
		{"mismatch", "swarm/agent/d1/telemetry", `{"agent_id":"d2"}`, "", errAgentMismatch},
		{"no agent", "telemetry", `{}`, "", errMissingAgent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tel, err := decodeTelemetry(tc.topic, []byte(tc.payload))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v got %v", tc.wantErr, err)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.agent, tel.AgentID)
		})
	}
	if _, err := decodeTelemetry("swarm/agent/d1/telemetry", []byte("{")); err == nil {
		t.Fatalf("expected json error")
	}
}

func TestTelemetrySubscription(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	require.NoError(t, err)
	sink := &recordingIngester{}
	h := NewTelemetryHandler(sink, 0, logger.NopLogger{})
	require.NoError(t, SubscribeTelemetry(cli, Config{}, h))

	handler := mc.handlers["swarm/agent/+/telemetry"]
	require.NotNil(t, handler)
	handler(mc, mockMessage{topic: "swarm/agent/d7/telemetry", p: []byte(`{"position":{"lat":48.85,"lon":2.35},"speed_kmh":40}`)})
	handler(mc, mockMessage{topic: "swarm/agent/d7/telemetry", p: []byte(`not json`)})

	require.Len(t, sink.got, 1)
	assert.Equal(t, "d7", sink.got[0].AgentID)
	assert.InDelta(t, 40, sink.got[0].SpeedKmh, 1e-9)
}
