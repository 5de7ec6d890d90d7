package navigation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/skyswarm/core/model"
)

// Fleet owns one engine per agent and runs their telemetry loops.
type Fleet struct {
	mu      sync.RWMutex
	cfg     Config
	opts    Options
	engines map[string]*Engine
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFleet returns an empty fleet. Engine loops start once Start is called.
func NewFleet(cfg Config, opts Options) *Fleet {
	cfg.SetDefaults()
	return &Fleet{cfg: cfg, opts: opts, engines: make(map[string]*Engine)}
}

// Start launches the telemetry loop of every known engine and of engines
// created afterwards. Loops stop when ctx is done or Close is called.
func (f *Fleet) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx != nil {
		return
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	for _, e := range f.engines {
		f.launch(e)
	}
}

func (f *Fleet) launch(e *Engine) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		e.Run(f.ctx)
	}()
}

// Engine returns the engine of agentID, creating it if needed.
func (f *Fleet) Engine(agentID string) *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.engines[agentID]; ok {
		return e
	}
	e := NewEngine(agentID, f.cfg, f.opts)
	f.engines[agentID] = e
	if f.ctx != nil {
		f.launch(e)
	}
	return e
}

// Lookup returns the engine of agentID if one exists.
func (f *Fleet) Lookup(agentID string) (*Engine, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.engines[agentID]
	if !ok {
		return nil, fmt.Errorf("navigation: agent %s: %w", agentID, model.ErrNotFound)
	}
	return e, nil
}

// Ingest routes telemetry to the engine of its agent.
func (f *Fleet) Ingest(ctx context.Context, t Telemetry) error {
	e, err := f.Lookup(t.AgentID)
	if err != nil {
		return err
	}
	return e.Ingest(ctx, t)
}

// States returns the live state of every engine ordered by agent.
func (f *Fleet) States() []model.NavigationState {
	f.mu.RLock()
	ids := make([]string, 0, len(f.engines))
	for id := range f.engines {
		ids = append(ids, id)
	}
	f.mu.RUnlock()
	sort.Strings(ids)
	out := make([]model.NavigationState, 0, len(ids))
	for _, id := range ids {
		if e, err := f.Lookup(id); err == nil {
			out = append(out, e.State())
		}
	}
	return out
}

// Close stops every loop and waits for them to return.
func (f *Fleet) Close() {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}
