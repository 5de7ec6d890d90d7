package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/skyswarm/core/model"
)

// Key is the composite ledger key of an entity.
type Key struct {
	Kind string
	ID   string
}

// MemoryLedger stores JSON snapshots of entities in memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	data    map[Key][]byte
	commits int
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{data: make(map[Key][]byte)}
}

// Put stores e.
func (l *MemoryLedger) Put(ctx context.Context, e Entity) error {
	return l.Commit(ctx, e)
}

// Get decodes the stored entity into out.
func (l *MemoryLedger) Get(_ context.Context, kind, id string, out any) error {
	l.mu.RLock()
	b, ok := l.data[Key{Kind: kind, ID: id}]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ledger: %s %s: %w", kind, id, model.ErrNotFound)
	}
	return json.Unmarshal(b, out)
}

// Commit encodes every entity first and only then stores the batch, so an
// encoding failure leaves the ledger untouched.
func (l *MemoryLedger) Commit(ctx context.Context, entities ...Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := make(map[Key][]byte, len(entities))
	for _, e := range entities {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("ledger: encode %s %s: %w", e.EntityKind(), e.EntityID(), err)
		}
		staged[Key{Kind: e.EntityKind(), ID: e.EntityID()}] = b
	}
	l.mu.Lock()
	for k, b := range staged {
		l.data[k] = b
	}
	l.commits++
	l.mu.Unlock()
	return nil
}

// IDs lists the stored identifiers of kind in sorted order.
func (l *MemoryLedger) IDs(kind string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for k := range l.data {
		if k.Kind == kind {
			out = append(out, k.ID)
		}
	}
	sort.Strings(out)
	return out
}

// Commits returns how many batches were applied.
func (l *MemoryLedger) Commits() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commits
}

// Transfer is one recorded settlement movement.
type Transfer struct {
	Amount float64
	From   string
	To     string
}

// MemorySettlement keeps balances and the transfer journal in memory.
type MemorySettlement struct {
	mu       sync.Mutex
	balances map[string]float64
	journal  []Transfer
}

// NewMemorySettlement returns a settlement facility with empty balances.
func NewMemorySettlement() *MemorySettlement {
	return &MemorySettlement{balances: make(map[string]float64)}
}

// Transfer moves amount from one party to another. Balances may go negative;
// credit policy is owned by the payment system.
func (s *MemorySettlement) Transfer(_ context.Context, amount float64, from, to string) error {
	if amount < 0 {
		return model.Validationf("settlement: negative amount %.2f", amount)
	}
	if from == "" || to == "" {
		return model.Validationf("settlement: both parties are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[from] -= amount
	s.balances[to] += amount
	s.journal = append(s.journal, Transfer{Amount: amount, From: from, To: to})
	return nil
}

// Balance returns the balance of party.
func (s *MemorySettlement) Balance(party string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[party]
}

// Journal returns a copy of the recorded transfers.
func (s *MemorySettlement) Journal() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.journal...)
}

// DefaultReputation is returned for agents without a recorded score.
const DefaultReputation = 50

// MemoryRegistry is an allow-list registry with static reputations.
type MemoryRegistry struct {
	mu          sync.RWMutex
	allowAll    bool
	authorized  map[string]bool
	reputations map[string]float64
}

// NewMemoryRegistry returns a registry. With allowAll every agent that is not
// explicitly revoked is authorized.
func NewMemoryRegistry(allowAll bool) *MemoryRegistry {
	return &MemoryRegistry{
		allowAll:    allowAll,
		authorized:  make(map[string]bool),
		reputations: make(map[string]float64),
	}
}

// Authorize sets the authorization flag of an agent.
func (r *MemoryRegistry) Authorize(agentID string, ok bool) {
	r.mu.Lock()
	r.authorized[agentID] = ok
	r.mu.Unlock()
}

// SetReputation records a reputation score, clamped to [0,100].
func (r *MemoryRegistry) SetReputation(agentID string, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	r.mu.Lock()
	r.reputations[agentID] = score
	r.mu.Unlock()
}

// IsAuthorized implements Registry.
func (r *MemoryRegistry) IsAuthorized(_ context.Context, agentID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ok, set := r.authorized[agentID]; set {
		return ok, nil
	}
	return r.allowAll, nil
}

// ReputationOf implements Registry.
func (r *MemoryRegistry) ReputationOf(_ context.Context, agentID string) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.reputations[agentID]; ok {
		return s, nil
	}
	return DefaultReputation, nil
}
