package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilianp07/skyswarm/core/loadbalance"
	"github.com/kilianp07/skyswarm/infra/logger"
)

type countingOptimizer struct {
	calls atomic.Int32
	err   error
}

func (c *countingOptimizer) OptimizeLoad(context.Context) (loadbalance.Result, error) {
	c.calls.Add(1)
	return loadbalance.Result{Strategy: "round_robin", Pending: 1}, c.err
}

func TestRebalanceLoopTicks(t *testing.T) {
	o := &countingOptimizer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := rebalanceLoop(ctx, o, 5*time.Millisecond, logger.NopLogger{})
	deadline := time.After(2 * time.Second)
	for o.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("loop ran %d times", o.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop")
	}
}

func TestRebalanceLoopSurvivesErrors(t *testing.T) {
	o := &countingOptimizer{err: errors.New("boom")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rebalanceLoop(ctx, o, 5*time.Millisecond, logger.NopLogger{})
	deadline := time.After(2 * time.Second)
	for o.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("loop stopped after error")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
