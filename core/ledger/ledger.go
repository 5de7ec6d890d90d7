// Package ledger declares the external collaborators of the coordination
// core: durable persistence, settlement of response costs, and the identity
// and reputation registry. In-memory implementations back tests and
// single-node deployments.
package ledger

import "context"

// Entity is anything the ledger can persist.
type Entity interface {
	EntityID() string
	EntityKind() string
}

// Ledger persists entities with per-entity atomicity. Commit applies every
// entity of the batch or none of them.
type Ledger interface {
	Put(ctx context.Context, e Entity) error
	// Get decodes the entity stored under kind/id into out. It returns an
	// error wrapping model.ErrNotFound when nothing is stored.
	Get(ctx context.Context, kind, id string, out any) error
	Commit(ctx context.Context, entities ...Entity) error
}

// Settlement moves funds between parties. The core only requests transfers
// for dispatched response costs.
type Settlement interface {
	Transfer(ctx context.Context, amount float64, from, to string) error
}

// Registry answers identity and reputation queries.
type Registry interface {
	IsAuthorized(ctx context.Context, agentID string) (bool, error)
	// ReputationOf returns a score in [0,100].
	ReputationOf(ctx context.Context, agentID string) (float64, error)
}
