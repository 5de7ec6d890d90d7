package loadbalance

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/kilianp07/skyswarm/core/model"
)

// LPStrategy solves a linear program that maximizes the efficiency and
// proximity weighted assignment while every agent stays under its capacity.
// Agent capacity is the per-agent limit scaled by efficiency.
type LPStrategy struct {
	// Limit is the maximum items per agent. Zero means no limit.
	Limit int
}

// NewLPStrategy returns an LP strategy with the given per-agent limit.
func NewLPStrategy(limit int) *LPStrategy { return &LPStrategy{Limit: limit} }

func (s *LPStrategy) Name() string { return AIOptimized }

func (s *LPStrategy) Distribute(agents []AgentLoad, items []WorkItem) (map[string]int, error) {
	out := make(map[string]int, len(agents))
	for _, a := range agents {
		out[a.ID] = 0
	}
	n := len(items)
	if len(agents) == 0 || n == 0 {
		return out, nil
	}
	limit := s.Limit
	if limit <= 0 {
		limit = n
	}

	scores := make([]float64, len(agents))
	caps := make([]float64, len(agents))
	var total float64
	for i, a := range agents {
		scores[i] = agentScore(a, items)
		caps[i] = math.Ceil(float64(limit) * a.Efficiency / 100)
		total += caps[i]
	}
	if total < float64(n) {
		for i := range caps {
			caps[i] = float64(limit)
		}
	}

	sol, err := lpSolve(scores, caps, float64(n))
	if err != nil {
		return nil, fmt.Errorf("loadbalance: lp: %w", err)
	}
	for i, v := range roundLargestRemainder(sol[:len(agents)], n) {
		out[agents[i].ID] = v
	}
	return out, nil
}

// agentScore weights efficiency by the mean distance to the located items.
func agentScore(a AgentLoad, items []WorkItem) float64 {
	if a.Location.IsZero() {
		return a.Efficiency
	}
	var sum float64
	var located int
	for _, it := range items {
		if it.Location.IsZero() {
			continue
		}
		sum += model.DistanceKm(a.Location, it.Location)
		located++
	}
	if located == 0 {
		return a.Efficiency
	}
	return a.Efficiency / (1 + sum/float64(located))
}

// solveLP splits target work items across agents: x_i is the share of
// agent i, weighted by its score. It maximizes sum(score_i * x_i) with every
// agent at or under its capacity cap_i and all items assigned. The returned
// vector carries the slack columns of the standard form after the agent
// shares.
func solveLP(scores, caps []float64, target float64) ([]float64, error) {
	c := make([]float64, len(scores))
	for i, s := range scores {
		c[i] = -s
	}

	g := mat.NewDense(len(caps), len(caps), nil)
	h := make([]float64, len(caps))
	for i, cp := range caps {
		g.Set(i, i, 1)
		h[i] = cp
	}

	A := mat.NewDense(1, len(caps), nil)
	for i := range caps {
		A.Set(0, i, 1)
	}
	b := []float64{target}

	cStd, AStd, bStd := lp.Convert(c, g, h, A, b)
	_, sol, err := lp.Simplex(cStd, AStd, bStd, 1e-7, nil)
	return sol, err
}

// lpSolve can be overridden in tests to simulate solver failures.
var lpSolve = solveLP

// roundLargestRemainder rounds the fractional solution so the integer
// result sums to total.
func roundLargestRemainder(x []float64, total int) []int {
	out := make([]int, len(x))
	type rem struct {
		idx  int
		frac float64
	}
	rems := make([]rem, len(x))
	sum := 0
	for i, v := range x {
		if v < 0 {
			v = 0
		}
		f := math.Floor(v + 1e-9)
		out[i] = int(f)
		sum += out[i]
		rems[i] = rem{idx: i, frac: v - f}
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; sum < total && len(rems) > 0; i = (i + 1) % len(rems) {
		out[rems[i].idx]++
		sum++
	}
	for i := len(rems) - 1; sum > total && i >= 0; i-- {
		if out[rems[i].idx] > 0 {
			out[rems[i].idx]--
			sum--
		}
	}
	return out
}
