// Package ledger provides Redis-backed implementations of the ledger
// collaborators.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	coreledger "github.com/kilianp07/skyswarm/core/ledger"
	"github.com/kilianp07/skyswarm/core/model"
)

// Config describes the Redis connection.
type Config struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Namespace string `json:"namespace"`
}

// SetDefaults applies defaults.
func (c *Config) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "swarm"
	}
}

// Client wraps a Redis client and the key namespace shared by the ledger,
// the registry and the settlement facility.
type Client struct {
	rdb *redis.Client
	ns  string
}

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg.SetDefaults()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ledger: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, ns: cfg.Namespace}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) entityKey(kind, id string) string { return c.ns + ":" + kind + ":" + id }
func (c *Client) indexKey(kind string) string      { return c.ns + ":" + kind }

// Ledger stores entities as JSON strings and keeps a per-kind index set.
type Ledger struct{ c *Client }

// NewLedger returns the ledger view of c.
func NewLedger(c *Client) *Ledger { return &Ledger{c: c} }

var _ coreledger.Ledger = (*Ledger)(nil)

// Put stores e.
func (l *Ledger) Put(ctx context.Context, e coreledger.Entity) error {
	return l.Commit(ctx, e)
}

// Get decodes the stored entity into out.
func (l *Ledger) Get(ctx context.Context, kind, id string, out any) error {
	b, err := l.c.rdb.Get(ctx, l.c.entityKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis ledger: %s %s: %w", kind, id, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("redis ledger: get %s %s: %w", kind, id, err)
	}
	return json.Unmarshal(b, out)
}

// Commit writes the batch inside a MULTI/EXEC transaction.
func (l *Ledger) Commit(ctx context.Context, entities ...coreledger.Entity) error {
	payloads := make([][]byte, len(entities))
	for i, e := range entities {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redis ledger: encode %s %s: %w", e.EntityKind(), e.EntityID(), err)
		}
		payloads[i] = b
	}
	_, err := l.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, e := range entities {
			p.Set(ctx, l.c.entityKey(e.EntityKind(), e.EntityID()), payloads[i], 0)
			p.SAdd(ctx, l.c.indexKey(e.EntityKind()), e.EntityID())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis ledger: commit: %w", err)
	}
	return nil
}

// IDs lists the identifiers stored for kind.
func (l *Ledger) IDs(ctx context.Context, kind string) ([]string, error) {
	return l.c.rdb.SMembers(ctx, l.c.indexKey(kind)).Result()
}

// Registry reads authorizations from a set and reputations from a hash.
type Registry struct{ c *Client }

// NewRegistry returns the registry view of c.
func NewRegistry(c *Client) *Registry { return &Registry{c: c} }

var _ coreledger.Registry = (*Registry)(nil)

// Authorize adds or removes agentID from the authorized set.
func (r *Registry) Authorize(ctx context.Context, agentID string, ok bool) error {
	key := r.c.ns + ":authorized"
	if ok {
		return r.c.rdb.SAdd(ctx, key, agentID).Err()
	}
	return r.c.rdb.SRem(ctx, key, agentID).Err()
}

// SetReputation stores a reputation score.
func (r *Registry) SetReputation(ctx context.Context, agentID string, score float64) error {
	return r.c.rdb.HSet(ctx, r.c.ns+":reputation", agentID, score).Err()
}

// IsAuthorized implements ledger.Registry.
func (r *Registry) IsAuthorized(ctx context.Context, agentID string) (bool, error) {
	ok, err := r.c.rdb.SIsMember(ctx, r.c.ns+":authorized", agentID).Result()
	if err != nil {
		return false, fmt.Errorf("redis registry: %w", err)
	}
	return ok, nil
}

// ReputationOf implements ledger.Registry. Unknown agents get the default
// reputation.
func (r *Registry) ReputationOf(ctx context.Context, agentID string) (float64, error) {
	v, err := r.c.rdb.HGet(ctx, r.c.ns+":reputation", agentID).Result()
	if errors.Is(err, redis.Nil) {
		return coreledger.DefaultReputation, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis registry: %w", err)
	}
	score, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("redis registry: reputation of %s: %w", agentID, err)
	}
	return score, nil
}

// Settlement keeps balances in a hash and appends every transfer to a list.
type Settlement struct {
	c   *Client
	now func() time.Time
}

// NewSettlement returns the settlement view of c.
func NewSettlement(c *Client) *Settlement { return &Settlement{c: c, now: time.Now} }

var _ coreledger.Settlement = (*Settlement)(nil)

type transferRecord struct {
	Amount float64   `json:"amount"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
}

// Transfer implements ledger.Settlement.
func (s *Settlement) Transfer(ctx context.Context, amount float64, from, to string) error {
	if amount < 0 {
		return model.Validationf("settlement: negative amount %.2f", amount)
	}
	if from == "" || to == "" {
		return model.Validationf("settlement: both parties are required")
	}
	rec, err := json.Marshal(transferRecord{Amount: amount, From: from, To: to, At: s.now().UTC()})
	if err != nil {
		return err
	}
	balances := s.c.ns + ":balances"
	_, err = s.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrByFloat(ctx, balances, from, -amount)
		p.HIncrByFloat(ctx, balances, to, amount)
		p.RPush(ctx, s.c.ns+":transfers", rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis settlement: %w", err)
	}
	return nil
}

// Balance returns the balance of party.
func (s *Settlement) Balance(ctx context.Context, party string) (float64, error) {
	v, err := s.c.rdb.HGet(ctx, s.c.ns+":balances", party).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
