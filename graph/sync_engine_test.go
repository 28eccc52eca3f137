package graph

import (
	"context"
	"testing"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

func newTestEngine() (*Engine, store.Store) {
	st := store.NewMemStore()
	return NewEngine(st, NewResolver(), meshcore.NoOpLogger{}), st
}

func TestDecideSyncStrategyEmptyGraph(t *testing.T) {
	engine, _ := newTestEngine()
	strat, err := engine.DecideSyncStrategy(context.Background(), "B", "s1", "g1", NewVectorClock())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strat != StrategyNone {
		t.Fatalf("expected None for empty graph, got %s", strat)
	}
}

func TestTwoNodeFullSync(t *testing.T) {
	ctx := context.Background()
	engineA, stA := newTestEngine()

	id, _ := stA.NextNodeID(ctx, "s1")
	n1 := &store.Node{
		ID: id, SessionID: "s1", OriginInstanceID: "A", OriginLocalID: id,
		NodeType: "entity", Label: "x", Properties: map[string]interface{}{"v": float64(1)},
		VectorClock: map[string]uint64{"A": 1}, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		LastModifiedBy: "A", SyncEnabled: true,
	}
	if err := stA.UpsertNode(ctx, n1); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	strat, err := engineA.DecideSyncStrategy(ctx, "A", "s1", "g1", NewVectorClock())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if strat != StrategyFull {
		t.Fatalf("expected Full strategy, got %s", strat)
	}

	payload, err := engineA.SyncFull(ctx, "A", "s1", "g1")
	if err != nil {
		t.Fatalf("sync_full: %v", err)
	}
	if len(payload.Nodes) != 1 {
		t.Fatalf("expected 1 node in payload, got %d", len(payload.Nodes))
	}

	engineB, stB := newTestEngine()
	stats, err := engineB.ApplySync(ctx, "B", payload, store.StrategyVectorClock)
	if err != nil {
		t.Fatalf("apply_sync: %v", err)
	}
	if stats.NodesApplied != 1 {
		t.Fatalf("expected 1 node applied, got %d", stats.NodesApplied)
	}

	stored, found, err := stB.FindNodeByOrigin(ctx, "s1", store.EntityKey{OriginInstanceID: "A", OriginLocalID: id})
	if err != nil || !found {
		t.Fatalf("expected node replicated to B, found=%v err=%v", found, err)
	}
	if stored.VectorClock["A"] != 1 {
		t.Fatalf("expected replicated clock A:1, got %v", stored.VectorClock)
	}
	if stored.LastModifiedBy != "A" {
		t.Fatalf("expected last_modified_by=A, got %s", stored.LastModifiedBy)
	}
}

func TestConcurrentUpdateMerge(t *testing.T) {
	ctx := context.Background()
	engineA, stA := newTestEngine()

	local := &store.Node{
		ID: 1, SessionID: "s1", OriginInstanceID: "A", OriginLocalID: 1,
		NodeType: "entity", Label: "x", Properties: map[string]interface{}{"v": float64(2)},
		VectorClock: map[string]uint64{"A": 2}, UpdatedAt: time.Now(), SyncEnabled: true,
	}
	if err := stA.UpsertNode(ctx, local); err != nil {
		t.Fatalf("upsert local: %v", err)
	}

	incoming := &store.Node{
		ID: 99, SessionID: "s1", OriginInstanceID: "A", OriginLocalID: 1,
		NodeType: "entity", Label: "x", Properties: map[string]interface{}{"w": float64(3)},
		VectorClock: map[string]uint64{"A": 1, "B": 1}, UpdatedAt: time.Now(),
		LastModifiedBy: "B", SyncEnabled: true,
	}
	payload := &GraphSyncPayload{
		Session: "s1", Graph: "g1", FromInstanceID: "B",
		Nodes: []*store.Node{incoming}, VectorClock: VectorClock{"A": 1, "B": 1},
		SyncType: StrategyFull,
	}

	stats, err := engineA.ApplySync(ctx, "A", payload, store.StrategyVectorClock)
	if err != nil {
		t.Fatalf("apply_sync: %v", err)
	}
	if stats.ConflictsDetected != 1 || stats.ConflictsResolved != 1 {
		t.Fatalf("expected 1 conflict detected and resolved, got %+v", stats)
	}

	merged, found, err := stA.FindNodeByOrigin(ctx, "s1", store.EntityKey{OriginInstanceID: "A", OriginLocalID: 1})
	if err != nil || !found {
		t.Fatalf("expected merged node present, found=%v err=%v", found, err)
	}
	if merged.Properties["v"] != float64(2) || merged.Properties["w"] != float64(3) {
		t.Fatalf("expected merged properties {v:2,w:3}, got %v", merged.Properties)
	}
	if merged.VectorClock["A"] < 2 || merged.VectorClock["B"] != 1 {
		t.Fatalf("expected merged clock at least A:2 (ticked),B:1, got %v", merged.VectorClock)
	}
}

func TestApplySyncIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, st := newTestEngine()

	n := &store.Node{
		ID: 1, SessionID: "s1", OriginInstanceID: "A", OriginLocalID: 1,
		NodeType: "entity", Label: "x", VectorClock: map[string]uint64{"A": 1},
		UpdatedAt: time.Now(), SyncEnabled: true,
	}
	payload := &GraphSyncPayload{
		Session: "s1", Graph: "g1", FromInstanceID: "A",
		Nodes: []*store.Node{n}, VectorClock: VectorClock{"A": 1}, SyncType: StrategyFull,
	}

	if _, err := engine.ApplySync(ctx, "B", payload, store.StrategyVectorClock); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	stats2, err := engine.ApplySync(ctx, "B", payload, store.StrategyVectorClock)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if stats2.NodesApplied != 0 || stats2.ConflictsDetected != 0 {
		t.Fatalf("expected no-op on repeat apply, got %+v", stats2)
	}
	nodes, _ := st.ListNodes(ctx, "s1", true)
	if len(nodes) != 1 {
		t.Fatalf("expected exactly 1 stored node, got %d", len(nodes))
	}
}

func TestTombstonePropagation(t *testing.T) {
	ctx := context.Background()
	_, stB := newTestEngine()
	engineB := NewEngine(stB, NewResolver(), meshcore.NoOpLogger{})

	deleted := &store.Node{
		ID: 1, SessionID: "s1", OriginInstanceID: "A", OriginLocalID: 1,
		NodeType: "entity", Label: "x", IsDeleted: true,
		VectorClock: map[string]uint64{"A": 2}, UpdatedAt: time.Now(), SyncEnabled: true,
	}
	payload := &GraphSyncPayload{
		Session: "s1", Graph: "g1", FromInstanceID: "A",
		Nodes: []*store.Node{deleted}, VectorClock: VectorClock{"A": 2}, SyncType: StrategyFull,
	}

	stats, err := engineB.ApplySync(ctx, "B", payload, store.StrategyVectorClock)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stats.TombstonesApplied != 1 {
		t.Fatalf("expected 1 tombstone applied, got %d", stats.TombstonesApplied)
	}

	nodes, err := stB.ListNodes(ctx, "s1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected tombstoned node omitted from non-deleted listing, got %d", len(nodes))
	}
}
