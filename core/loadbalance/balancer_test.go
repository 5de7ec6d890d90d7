package loadbalance

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/infra/logger"
)

func newBalancer(t *testing.T, cfg Config, agents ...string) *Balancer {
	t.Helper()
	b, err := New(cfg, logger.NopLogger{})
	require.NoError(t, err)
	for _, id := range agents {
		require.NoError(t, b.Register(model.Agent{ID: id, Available: true, BatteryPct: 80}))
	}
	return b
}

func items(n int) []WorkItem {
	out := make([]WorkItem, n)
	for i := range out {
		out[i] = WorkItem{ID: fmt.Sprintf("item-%02d", i)}
	}
	return out
}

func TestRegister(t *testing.T) {
	b := newBalancer(t, Config{}, "d1")
	w, ok := b.Workload("d1")
	require.True(t, ok)
	assert.Zero(t, w)

	err := b.Register(model.Agent{ID: "d1"})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.ErrorIs(t, b.Register(model.Agent{}), model.ErrValidation)
}

func TestRoundRobinSumsToPending(t *testing.T) {
	for n := 0; n <= 23; n++ {
		for m := 1; m <= 6; m++ {
			agents := make([]string, m)
			for i := range agents {
				agents[i] = fmt.Sprintf("d%d", i)
			}
			b := newBalancer(t, Config{MaxWorkloadPerAgent: 100}, agents...)
			require.NoError(t, b.Enqueue(items(n)...))
			res, err := b.Optimize(time.Unix(0, 0))
			require.NoError(t, err)

			sum := 0
			for i, id := range agents {
				w := res.Workload[id]
				if w != n/m && w != n/m+1 {
					t.Fatalf("n=%d m=%d: agent %s got %d", n, m, id, w)
				}
				if i < n%m && w != n/m+1 {
					t.Fatalf("n=%d m=%d: remainder must go to the first agents", n, m)
				}
				sum += w
			}
			if sum != n {
				t.Fatalf("n=%d m=%d: total %d", n, m, sum)
			}
		}
	}
}

func TestOptimizeHonoursInterval(t *testing.T) {
	b := newBalancer(t, Config{RebalanceInterval: time.Minute}, "d1", "d2")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.Enqueue(items(4)...))
	res, err := b.Optimize(now)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	require.NoError(t, b.Enqueue(items(2)...))
	res, err = b.Optimize(now.Add(30 * time.Second))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 2, res.Workload["d1"])

	res, err = b.Optimize(now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Workload["d1"])
}

func TestCapacityBased(t *testing.T) {
	b := newBalancer(t, Config{Algorithm: CapacityBased}, "d1", "d2")
	require.NoError(t, b.SetEfficiency("d2", 45))
	res, err := b.Optimize(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Workload["d1"])
	assert.Equal(t, 4, res.Workload["d2"])
}

func TestOverloadLeavesStateUntouched(t *testing.T) {
	b := newBalancer(t, Config{MaxWorkloadPerAgent: 2}, "d1", "d2")
	require.NoError(t, b.Enqueue(items(5)...))
	_, err := b.Optimize(time.Now())
	if !errors.Is(err, model.ErrOverload) {
		t.Fatalf("expected overload, got %v", err)
	}
	assert.Equal(t, map[string]int{"d1": 0, "d2": 0}, b.Snapshot())

	assert.True(t, b.Complete("item-00"))
	_, err = b.Optimize(time.Now())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d1": 2, "d2": 2}, b.Snapshot())
}

func TestNotImplementedStrategy(t *testing.T) {
	b := newBalancer(t, Config{}, "d1")
	b.SetStrategy(NotImplemented{Algorithm: "quantum"})
	require.NoError(t, b.Enqueue(items(1)...))
	_, err := b.Optimize(time.Now())
	assert.ErrorIs(t, err, model.ErrStrategyNotImplemented)
	w, _ := b.Workload("d1")
	assert.Zero(t, w)
}

func TestNoAgents(t *testing.T) {
	b := newBalancer(t, Config{})
	res, err := b.Optimize(time.Now())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	require.NoError(t, b.Enqueue(items(1)...))
	_, err = b.Optimize(time.Now())
	assert.ErrorIs(t, err, model.ErrResourceUnavailable)
}

func TestAvailableOrdersByWorkload(t *testing.T) {
	b := newBalancer(t, Config{Algorithm: CapacityBased}, "d1", "d2", "d3")
	require.NoError(t, b.SetEfficiency("d1", 90))
	require.NoError(t, b.SetEfficiency("d2", 20))
	require.NoError(t, b.UpdateAgent(model.Agent{ID: "d3", Available: false, BatteryPct: 10}))
	_, err := b.Optimize(time.Now())
	require.NoError(t, err)

	got := b.Available(0)
	require.Len(t, got, 2)
	assert.Equal(t, "d2", got[0].ID)
	assert.Equal(t, "d1", got[1].ID)
	assert.Len(t, b.Available(1), 1)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Algorithm: DistanceBased}.Validate())
	assert.ErrorIs(t, Config{Algorithm: "random"}.Validate(), model.ErrValidation)
}
