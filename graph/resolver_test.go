package graph

import (
	"testing"
	"time"

	"github.com/meshfabric/agentmesh/store"
)

func TestResolveNodesVectorClockEntityMerge(t *testing.T) {
	r := NewResolver()
	now := time.Now()
	local := &store.Node{
		NodeType: "entity", Label: "x",
		Properties:  map[string]interface{}{"v": float64(2), "id": "local-id"},
		VectorClock: map[string]uint64{"A": 2},
		UpdatedAt:   now,
	}
	incoming := &store.Node{
		NodeType: "entity", Label: "x",
		Properties:  map[string]interface{}{"w": float64(3), "id": "remote-id"},
		VectorClock: map[string]uint64{"A": 1, "B": 1},
		UpdatedAt:   now.Add(time.Second),
	}

	merged, resolved, note := r.ResolveNodes(local, incoming, store.StrategyVectorClock)
	if !resolved {
		t.Fatalf("expected vector_clock strategy to resolve")
	}
	if note != "" {
		t.Fatalf("expected no semantic conflict, got %q", note)
	}
	if merged.Properties["v"] != float64(2) || merged.Properties["w"] != float64(3) {
		t.Fatalf("expected merged {v:2,w:3}, got %v", merged.Properties)
	}
	if merged.Properties["id"] != "local-id" {
		t.Fatalf("expected entity type to preserve local id, got %v", merged.Properties["id"])
	}
}

func TestResolveNodesFactUnionsArrays(t *testing.T) {
	r := NewResolver()
	local := &store.Node{
		NodeType:    "fact",
		Properties:  map[string]interface{}{"evidence": []interface{}{"a", "b"}},
		VectorClock: map[string]uint64{"A": 1},
	}
	incoming := &store.Node{
		NodeType:    "fact",
		Properties:  map[string]interface{}{"evidence": []interface{}{"b", "c"}},
		VectorClock: map[string]uint64{"B": 1},
	}
	merged, _, _ := r.ResolveNodes(local, incoming, store.StrategyVectorClock)
	ev := merged.Properties["evidence"].([]interface{})
	if len(ev) != 3 {
		t.Fatalf("expected union-deduplicated evidence of length 3, got %v", ev)
	}
}

func TestResolveNodesManualDoesNotMerge(t *testing.T) {
	r := NewResolver()
	local := &store.Node{Label: "x", VectorClock: map[string]uint64{"A": 1}}
	incoming := &store.Node{Label: "y", VectorClock: map[string]uint64{"B": 1}}
	merged, resolved, note := r.ResolveNodes(local, incoming, store.StrategyManual)
	if resolved {
		t.Fatalf("manual strategy must not resolve")
	}
	if merged.Label != "x" {
		t.Fatalf("manual strategy must leave local unchanged, got label %q", merged.Label)
	}
	if note == "" {
		t.Fatalf("expected semantic conflict note for disagreeing labels")
	}
}

func TestResolveNodesLastWriteWins(t *testing.T) {
	r := NewResolver()
	now := time.Now()
	local := &store.Node{Label: "x", UpdatedAt: now, VectorClock: map[string]uint64{"A": 1}}
	incoming := &store.Node{Label: "y", UpdatedAt: now.Add(time.Minute), VectorClock: map[string]uint64{"B": 1}}
	merged, resolved, _ := r.ResolveNodes(local, incoming, store.StrategyLastWriteWins)
	if !resolved {
		t.Fatalf("expected last_write_wins to resolve")
	}
	if merged.Label != "y" {
		t.Fatalf("expected newer version (incoming) to win, got %q", merged.Label)
	}
	if merged.VectorClock["A"] != 1 || merged.VectorClock["B"] != 1 {
		t.Fatalf("expected merged clocks even on lww, got %v", merged.VectorClock)
	}
}
