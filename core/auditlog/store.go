// Package auditlog persists one record per public coordination operation so
// operators can reconstruct who reserved, dispatched or avoided what.
package auditlog

import (
	"context"
	"time"
)

// Record captures one coordination operation and its result.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	AgentID   string         `json:"agent_id,omitempty"`
	EntityIDs []string       `json:"entity_ids,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
}

// Failed reports whether the operation returned an error.
func (r Record) Failed() bool { return r.Error != "" }

// Query defines filters for retrieving records. Zero fields match anything.
type Query struct {
	Start     time.Time
	End       time.Time
	AgentID   string
	Operation string
	// FailedOnly keeps only records of failed operations.
	FailedOnly bool
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Operation != "" && r.Operation != q.Operation {
		return false
	}
	if q.FailedOnly && !r.Failed() {
		return false
	}
	if q.AgentID != "" && r.AgentID != q.AgentID {
		for _, id := range r.EntityIDs {
			if id == q.AgentID {
				return true
			}
		}
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore discards every record.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
