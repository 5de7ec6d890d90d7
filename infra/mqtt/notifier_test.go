package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/skyswarm/core/events"
	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/infra/logger"
	"github.com/kilianp07/skyswarm/internal/eventbus"
)

func TestNotifierTopicsAndQoS(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	require.NoError(t, err)
	n := NewNotifier(cli, Config{EventPrefix: "swarm/events/"}, logger.NopLogger{})

	ev := events.New(events.KindSlotReserved, "d1", time.Unix(100, 0).UTC(), events.SlotReserved{Slot: model.AirspaceSlot{ID: "s1"}})
	require.NoError(t, n.Notify(ev))

	sent := mc.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "swarm/events/slot_reserved", sent[0].topic)
	assert.Equal(t, byte(1), sent[0].qos)
	var got struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(sent[0].payload, &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "slot_reserved", got.Kind)
}

func TestNotifierForwardsBus(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	require.NoError(t, err)
	bus := eventbus.NewTyped[events.Event]()
	n := NewNotifier(cli, Config{}, logger.NopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := n.Start(ctx, bus)
	bus.Publish(events.New(events.KindEmergencyDispatched, "d1", time.Now(), nil))
	bus.Publish(events.New(events.KindObstacleAvoided, "d2", time.Now(), nil))

	require.Eventually(t, func() bool { return len(mc.sent()) == 2 }, time.Second, 5*time.Millisecond)
	bus.Close()
	<-done
	sent := mc.sent()
	assert.Equal(t, "swarm/events/emergency_dispatched", sent[0].topic)
	assert.Equal(t, "swarm/events/obstacle_avoided", sent[1].topic)
}
