package auditlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/skyswarm/core/factory"
)

func sampleRecords(base time.Time) []Record {
	return []Record{
		{Timestamp: base, Operation: "reserve_airspace", AgentID: "A", EntityIDs: []string{"s1"}},
		{Timestamp: base.Add(time.Minute), Operation: "dispatch_emergency", AgentID: "d1", EntityIDs: []string{"d2", "d3"}},
		{Timestamp: base.Add(2 * time.Minute), Operation: "dispatch_emergency", AgentID: "d4", Error: "no responders available"},
	}
}

func TestRecordJSON(t *testing.T) {
	rec := sampleRecords(time.Unix(0, 0))[0]
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"timestamp", "operation", "agent_id", "entity_ids", "duration"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %s", k)
		}
	}
}

func TestQueryMatch(t *testing.T) {
	recs := sampleRecords(time.Unix(1000, 0))
	assert.True(t, Query{AgentID: "d3"}.Match(recs[1]), "responders match by entity id")
	assert.False(t, Query{AgentID: "d3"}.Match(recs[0]))
	assert.True(t, Query{FailedOnly: true}.Match(recs[2]))
	assert.False(t, Query{Start: time.Unix(1030, 0)}.Match(recs[0]))
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for _, r := range sampleRecords(base) {
		require.NoError(t, s.Append(ctx, r))
	}
	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "reserve_airspace", all[0].Operation)

	disp, err := s.Query(ctx, Query{Operation: "dispatch_emergency"})
	require.NoError(t, err)
	assert.Len(t, disp, 2)

	failed, err := s.Query(ctx, Query{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "d4", failed[0].AgentID)

	byAgent, err := s.Query(ctx, Query{AgentID: "d2"})
	require.NoError(t, err)
	assert.Len(t, byAgent, 1)

	late, err := s.Query(ctx, Query{Start: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, late, 1)
}

func TestJSONLStore(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore("file:audit_test.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestRotatingJSONLStore_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	rec := Record{Timestamp: time.Now(), Operation: "update_navigation", Details: map[string]any{"pad": strings.Repeat("x", 4096)}}
	for i := 0; i < 400; i++ {
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	files, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "audit*.jsonl"))
	if len(files) < 2 {
		t.Fatalf("expected rotated files, got %v", files)
	}
	out, err := store.Query(context.Background(), Query{Operation: "update_navigation"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected records")
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	s, err := NewStore(factory.ModuleConfig{})
	require.NoError(t, err)
	assert.IsType(t, NopStore{}, s)

	path := filepath.Join(t.TempDir(), "a.jsonl")
	s, err = NewStore(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": path}})
	require.NoError(t, err)
	assert.IsType(t, &JSONLStore{}, s)

	s, err = NewStore(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": path, "max_size_mb": "5"}})
	require.NoError(t, err)
	assert.IsType(t, &RotatingJSONLStore{}, s)

	_, err = NewStore(factory.ModuleConfig{Type: "kafka"})
	assert.Error(t, err)
}
