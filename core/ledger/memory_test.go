package ledger

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/skyswarm/core/model"
)

type badEntity struct{}

func (badEntity) EntityID() string   { return "bad" }
func (badEntity) EntityKind() string { return "bad" }
func (badEntity) MarshalJSON() ([]byte, error) {
	return nil, errors.New("cannot encode")
}

func TestMemoryLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	slot := model.AirspaceSlot{ID: "s1", RouteID: "R1", AgentID: "A"}
	require.NoError(t, l.Put(ctx, slot))

	var got model.AirspaceSlot
	require.NoError(t, l.Get(ctx, "slot", "s1", &got))
	assert.Equal(t, "R1", got.RouteID)

	err := l.Get(ctx, "slot", "missing", &got)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryLedgerCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	err := l.Commit(ctx, model.AirspaceSlot{ID: "s1"}, badEntity{})
	require.Error(t, err)
	assert.Empty(t, l.IDs("slot"))
	assert.Zero(t, l.Commits())

	require.NoError(t, l.Commit(ctx, model.AirspaceSlot{ID: "s1"}, model.AirspaceSlot{ID: "s2"}))
	assert.Equal(t, []string{"s1", "s2"}, l.IDs("slot"))
	assert.Equal(t, 1, l.Commits())
}

func TestMemorySettlement(t *testing.T) {
	s := NewMemorySettlement()
	require.NoError(t, s.Transfer(context.Background(), 80, "fleet", "d2"))
	assert.InDelta(t, -80, s.Balance("fleet"), 1e-9)
	assert.InDelta(t, 80, s.Balance("d2"), 1e-9)
	assert.Len(t, s.Journal(), 1)
	assert.ErrorIs(t, s.Transfer(context.Background(), -1, "a", "b"), model.ErrValidation)
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry(true)
	ok, err := r.IsAuthorized(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	r.Authorize("d1", false)
	ok, _ = r.IsAuthorized(ctx, "d1")
	assert.False(t, ok)

	rep, _ := r.ReputationOf(ctx, "d9")
	assert.Equal(t, float64(DefaultReputation), rep)
	r.SetReputation("d9", 250)
	rep, _ = r.ReputationOf(ctx, "d9")
	assert.False(t, math.IsNaN(rep))
	assert.Equal(t, 100.0, rep)
}
