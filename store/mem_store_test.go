package store

import (
	"context"
	"testing"
	"time"
)

func TestMemStoreNodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	id, err := st.NextNodeID(ctx, "s1")
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	n := &Node{
		ID: id, SessionID: "s1", OriginInstanceID: "A", OriginLocalID: id,
		NodeType: "entity", Label: "x", Properties: map[string]interface{}{"v": 1},
		CreatedAt: time.Now(), UpdatedAt: time.Now(), VectorClock: map[string]uint64{"A": 1},
	}
	if err := st.UpsertNode(ctx, n); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, found, err := st.GetNode(ctx, "s1", id)
	if err != nil || !found {
		t.Fatalf("expected node found, found=%v err=%v", found, err)
	}
	if got.Label != "x" {
		t.Fatalf("expected label x, got %s", got.Label)
	}

	got.Label = "mutated"
	reread, _, _ := st.GetNode(ctx, "s1", id)
	if reread.Label == "mutated" {
		t.Fatalf("GetNode must return an independent copy, not the internal pointer")
	}

	byOrigin, found, err := st.FindNodeByOrigin(ctx, "s1", EntityKey{OriginInstanceID: "A", OriginLocalID: id})
	if err != nil || !found {
		t.Fatalf("expected origin lookup to find node, found=%v err=%v", found, err)
	}
	if byOrigin.ID != id {
		t.Fatalf("expected origin lookup id %d, got %d", id, byOrigin.ID)
	}
}

func TestMemStoreListNodesExcludesDeletedByDefault(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	live := &Node{ID: 1, SessionID: "s1", OriginInstanceID: "A", OriginLocalID: 1}
	deleted := &Node{ID: 2, SessionID: "s1", OriginInstanceID: "A", OriginLocalID: 2, IsDeleted: true}
	_ = st.UpsertNode(ctx, live)
	_ = st.UpsertNode(ctx, deleted)

	active, err := st.ListNodes(ctx, "s1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active node, got %d", len(active))
	}

	all, err := st.ListNodes(ctx, "s1", true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 nodes including tombstone, got %d", len(all))
	}
}

func TestMemStoreChangelogSince(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	cutoff := time.Now()
	time.Sleep(time.Millisecond)

	if err := st.AppendChangelog(ctx, &ChangelogEntry{SessionID: "s1", EntityType: "node", EntityID: 1, Operation: OpCreate, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := st.ChangelogSince(ctx, "s1", cutoff)
	if err != nil {
		t.Fatalf("changelog since: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after cutoff, got %d", len(entries))
	}

	future, err := st.ChangelogSince(ctx, "s1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("changelog since future: %v", err)
	}
	if len(future) != 0 {
		t.Fatalf("expected 0 entries after a future cutoff, got %d", len(future))
	}
}

func TestMemStoreSyncConfigAndState(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	cfg := &SyncConfig{SessionID: "s1", GraphName: "g1", SyncEnabled: true, ConflictResolutionStrategy: StrategyVectorClock, SyncIntervalSeconds: 60}
	if err := st.PutSyncConfig(ctx, cfg); err != nil {
		t.Fatalf("put config: %v", err)
	}
	got, found, err := st.GetSyncConfig(ctx, "s1", "g1")
	if err != nil || !found {
		t.Fatalf("expected config found, found=%v err=%v", found, err)
	}
	if !got.SyncEnabled {
		t.Fatalf("expected sync enabled true")
	}

	enabled, err := st.ListSyncEnabledNamespaces(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("expected 1 sync-enabled namespace, got %d", len(enabled))
	}

	state := &SyncState{InstanceID: "A", SessionID: "s1", GraphName: "g1", VectorClock: map[string]uint64{"A": 1}, LastSyncAt: time.Now()}
	if err := st.PutSyncState(ctx, state); err != nil {
		t.Fatalf("put state: %v", err)
	}
	gotState, found, err := st.GetSyncState(ctx, "A", "s1", "g1")
	if err != nil || !found {
		t.Fatalf("expected state found, found=%v err=%v", found, err)
	}
	if gotState.VectorClock["A"] != 1 {
		t.Fatalf("expected clock A:1, got %v", gotState.VectorClock)
	}
}

func TestMemStoreCredentials(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	if err := st.PutCredential(ctx, &Credential{Username: "alice", PasswordHash: "hash"}); err != nil {
		t.Fatalf("put credential: %v", err)
	}
	got, found, err := st.GetCredential(ctx, "alice")
	if err != nil || !found {
		t.Fatalf("expected credential found, found=%v err=%v", found, err)
	}
	if got.PasswordHash != "hash" {
		t.Fatalf("expected hash round-trip, got %q", got.PasswordHash)
	}

	_, found, err = st.GetCredential(ctx, "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected no credential for unknown user")
	}
}

func TestMemStoreConflictLog(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	if err := st.RecordConflict(ctx, &ConflictRecord{
		SessionID: "s1", EntityType: "node", EntityID: 1,
		Local: map[string]interface{}{"v": 1}, Incoming: map[string]interface{}{"v": 2},
		Strategy: StrategyManual, Resolved: false, DetectedAt: time.Now(),
	}); err != nil {
		t.Fatalf("record conflict: %v", err)
	}

	unresolved := false
	list, err := st.ListConflicts(ctx, &unresolved)
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 unresolved conflict, got %d", len(list))
	}
}
