package app

import (
	"context"
	"time"

	"github.com/kilianp07/skyswarm/core/loadbalance"
	"github.com/kilianp07/skyswarm/infra/logger"
)

type optimizer interface {
	OptimizeLoad(ctx context.Context) (loadbalance.Result, error)
}

// rebalanceLoop runs the load balancer on every tick until ctx is done.
func rebalanceLoop(ctx context.Context, o optimizer, every time.Duration, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				res, err := o.OptimizeLoad(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Errorf("rebalance: %v", err)
					}
					continue
				}
				if !res.Skipped {
					log.Debugf("rebalanced %d pending items with %s", res.Pending, res.Strategy)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
