package graph

import (
	"context"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

// SyncStrategy is the outcome of decide_sync_strategy.
type SyncStrategy string

const (
	StrategyFull        SyncStrategy = "full"
	StrategyIncremental SyncStrategy = "incremental"
	StrategyNone        SyncStrategy = "none"
)

// BeforeThreshold is the largest amount (summed over clock components,
// see behindBy) by which a peer's clock may trail the local clock and
// still get an Incremental sync; a peer further behind gets Full.
// Concurrent clocks always get Full. A Before relation always trails by
// at least 1, so at 0 DecideSyncStrategy answers Full for every peer
// that is behind and never Incremental.
const BeforeThreshold = 0

// GraphSyncPayload is the wire shape exchanged between peers.
type GraphSyncPayload struct {
	Session        string                  `json:"session_id"`
	Graph          string                  `json:"graph_name"`
	FromInstanceID string                  `json:"from_instance_id"`
	Nodes          []*store.Node           `json:"nodes"`
	Edges          []*store.Edge           `json:"edges"`
	Changelog      []*store.ChangelogEntry `json:"changelog,omitempty"`
	VectorClock    VectorClock             `json:"vector_clock"`
	SyncType       SyncStrategy            `json:"sync_type"`
}

// SyncStats summarizes one apply_sync call.
type SyncStats struct {
	NodesApplied      int          `json:"nodes_applied"`
	EdgesApplied      int          `json:"edges_applied"`
	TombstonesApplied int          `json:"tombstones_applied"`
	ConflictsDetected int          `json:"conflicts_detected"`
	ConflictsResolved int          `json:"conflicts_resolved"`
	SyncType          SyncStrategy `json:"sync_type"`
}

// Engine implements the graph sync engine on top of a store.Store and
// a Resolver.
type Engine struct {
	st       store.Store
	resolver *Resolver
	logger   meshcore.Logger
}

// NewEngine constructs a sync Engine.
func NewEngine(st store.Store, resolver *Resolver, logger meshcore.Logger) *Engine {
	if logger == nil {
		logger = meshcore.NoOpLogger{}
	}
	if scoped, ok := logger.(meshcore.ComponentAwareLogger); ok {
		logger = scoped.WithComponent("graph/sync")
	}
	return &Engine{st: st, resolver: resolver, logger: logger}
}

// DecideSyncStrategy implements decide_sync_strategy's decision rule.
func (e *Engine) DecideSyncStrategy(ctx context.Context, instanceID, session, graphName string, theirVC VectorClock) (SyncStrategy, error) {
	nodes, err := e.st.ListNodes(ctx, session, true)
	if err != nil {
		return StrategyNone, err
	}
	if len(nodes) == 0 {
		return StrategyNone, nil
	}

	state, ok, err := e.st.GetSyncState(ctx, instanceID, session, graphName)
	if err != nil {
		return StrategyNone, err
	}
	if !ok {
		return StrategyFull, nil
	}

	localVC := VectorClock(state.VectorClock)
	switch CompareClocks(theirVC, localVC) {
	case Concurrent:
		return StrategyFull, nil
	case Before:
		if behindBy(theirVC, localVC) > BeforeThreshold {
			return StrategyFull, nil
		}
		return StrategyIncremental, nil
	default: // Equal or After (local behind peer — nothing to offer)
		return StrategyNone, nil
	}
}

// behindBy sums how far each component of a trails b, used to decide
// whether a Before relation is "far enough" behind to warrant a Full
// resync instead of an Incremental one.
func behindBy(a, b VectorClock) uint64 {
	var total uint64
	for k, bv := range b {
		if bv > a[k] {
			total += bv - a[k]
		}
	}
	return total
}

// SyncFull implements sync_full: a snapshot of every sync-enabled node
// and edge (including tombstones) for the namespace.
func (e *Engine) SyncFull(ctx context.Context, instanceID, session, graphName string) (*GraphSyncPayload, error) {
	nodes, err := e.st.ListNodes(ctx, session, true)
	if err != nil {
		return nil, err
	}
	edges, err := e.st.ListEdges(ctx, session, true)
	if err != nil {
		return nil, err
	}

	var syncNodes []*store.Node
	for _, n := range nodes {
		if n.SyncEnabled {
			syncNodes = append(syncNodes, n)
		}
	}
	var syncEdges []*store.Edge
	for _, ed := range edges {
		if ed.SyncEnabled {
			syncEdges = append(syncEdges, ed)
		}
	}

	localClock, err := e.namespaceClock(ctx, instanceID, session, graphName)
	if err != nil {
		return nil, err
	}

	return &GraphSyncPayload{
		Session:        session,
		Graph:          graphName,
		FromInstanceID: instanceID,
		Nodes:          syncNodes,
		Edges:          syncEdges,
		VectorClock:    localClock,
		SyncType:       StrategyFull,
	}, nil
}

// SyncIncremental implements sync_incremental: only records After or
// Concurrent with the peer's clock, plus the changelog since
// instanceID's own recorded sync of the namespace (SyncState.LastSyncAt),
// instead of a wall-clock retention window. That mark is kept per
// namespace, not per peer.
func (e *Engine) SyncIncremental(ctx context.Context, instanceID, session, graphName string, theirVC VectorClock) (*GraphSyncPayload, error) {
	nodes, err := e.st.ListNodes(ctx, session, true)
	if err != nil {
		return nil, err
	}
	edges, err := e.st.ListEdges(ctx, session, true)
	if err != nil {
		return nil, err
	}

	var deltaNodes []*store.Node
	for _, n := range nodes {
		if !n.SyncEnabled {
			continue
		}
		cmp := CompareClocks(VectorClock(n.VectorClock), theirVC)
		if cmp == After || cmp == Concurrent {
			deltaNodes = append(deltaNodes, n)
		}
	}
	var deltaEdges []*store.Edge
	for _, ed := range edges {
		if !ed.SyncEnabled {
			continue
		}
		cmp := CompareClocks(VectorClock(ed.VectorClock), theirVC)
		if cmp == After || cmp == Concurrent {
			deltaEdges = append(deltaEdges, ed)
		}
	}

	state, ok, err := e.st.GetSyncState(ctx, instanceID, session, graphName)
	if err != nil {
		return nil, err
	}
	since := time.Time{}
	if ok {
		since = state.LastSyncAt
	}
	changelog, err := e.st.ChangelogSince(ctx, session, since)
	if err != nil {
		return nil, err
	}

	localClock, err := e.namespaceClock(ctx, instanceID, session, graphName)
	if err != nil {
		return nil, err
	}

	return &GraphSyncPayload{
		Session:        session,
		Graph:          graphName,
		FromInstanceID: instanceID,
		Nodes:          deltaNodes,
		Edges:          deltaEdges,
		Changelog:      changelog,
		VectorClock:    localClock,
		SyncType:       StrategyIncremental,
	}, nil
}

// LocalClock returns the local namespace's current vector clock, the
// value a peer is expected to send alongside a sync request.
func (e *Engine) LocalClock(ctx context.Context, instanceID, session, graphName string) (VectorClock, error) {
	return e.namespaceClock(ctx, instanceID, session, graphName)
}

func (e *Engine) namespaceClock(ctx context.Context, instanceID, session, graphName string) (VectorClock, error) {
	state, ok, err := e.st.GetSyncState(ctx, instanceID, session, graphName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewVectorClock(), nil
	}
	return VectorClock(state.VectorClock), nil
}

// ApplySync implements apply_sync. It is treated as a logical
// transaction: on error the caller must not assume any partial effect
// was persisted beyond what has already been committed per-record,
// since the namespace clock is only advanced once all records in the
// payload have been processed successfully.
func (e *Engine) ApplySync(ctx context.Context, instanceID string, payload *GraphSyncPayload, strategy store.ConflictStrategy) (*SyncStats, error) {
	stats := &SyncStats{SyncType: payload.SyncType}
	namespaceClock, err := e.namespaceClock(ctx, instanceID, payload.Session, payload.Graph)
	if err != nil {
		return nil, meshcore.NewMeshError("apply_sync", "internal", err)
	}

	for _, incoming := range payload.Nodes {
		if err := e.applyNode(ctx, instanceID, incoming, strategy, stats); err != nil {
			return nil, meshcore.NewMeshError("apply_sync", "internal", err)
		}
		namespaceClock = namespaceClock.Merge(VectorClock(incoming.VectorClock))
	}
	for _, incoming := range payload.Edges {
		if err := e.applyEdge(ctx, instanceID, incoming, strategy, stats); err != nil {
			return nil, meshcore.NewMeshError("apply_sync", "internal", err)
		}
		namespaceClock = namespaceClock.Merge(VectorClock(incoming.VectorClock))
	}

	namespaceClock = namespaceClock.Merge(payload.VectorClock)
	if err := e.st.PutSyncState(ctx, &store.SyncState{
		InstanceID:  instanceID,
		SessionID:   payload.Session,
		GraphName:   payload.Graph,
		VectorClock: namespaceClock,
		LastSyncAt:  time.Now(),
	}); err != nil {
		return nil, meshcore.NewMeshError("apply_sync", "internal", err)
	}

	e.logger.Info("applied sync payload", map[string]interface{}{
		"session":   payload.Session,
		"graph":     payload.Graph,
		"nodes":     stats.NodesApplied,
		"edges":     stats.EdgesApplied,
		"conflicts": stats.ConflictsDetected,
	})
	return stats, nil
}

func (e *Engine) applyNode(ctx context.Context, instanceID string, incoming *store.Node, strategy store.ConflictStrategy, stats *SyncStats) error {
	key := incoming.Key()
	local, found, err := e.st.FindNodeByOrigin(ctx, incoming.SessionID, key)
	if err != nil {
		return err
	}
	if !found {
		id, err := e.st.NextNodeID(ctx, incoming.SessionID)
		if err != nil {
			return err
		}
		toStore := *incoming
		toStore.ID = id
		if err := e.st.UpsertNode(ctx, &toStore); err != nil {
			return err
		}
		if toStore.IsDeleted {
			stats.TombstonesApplied++
		}
		stats.NodesApplied++
		return e.appendChangelog(ctx, instanceID, incoming.SessionID, "node", id, toStore.IsDeleted, toStore.VectorClock)
	}

	switch CompareClocks(VectorClock(local.VectorClock), VectorClock(incoming.VectorClock)) {
	case Equal:
		return nil
	case After:
		return nil
	case Before:
		toStore := *incoming
		toStore.ID = local.ID
		toStore.VectorClock = VectorClock(local.VectorClock).Merge(VectorClock(incoming.VectorClock)).Tick(instanceID)
		if err := e.st.UpsertNode(ctx, &toStore); err != nil {
			return err
		}
		if toStore.IsDeleted {
			stats.TombstonesApplied++
		}
		stats.NodesApplied++
		return e.appendChangelog(ctx, instanceID, incoming.SessionID, "node", local.ID, toStore.IsDeleted, toStore.VectorClock)
	case Concurrent:
		stats.ConflictsDetected++
		merged, resolved, semanticNote := e.resolver.ResolveNodes(local, incoming, strategy)
		merged.ID = local.ID
		merged.VectorClock[instanceID] = merged.VectorClock[instanceID] + 1
		if err := e.st.UpsertNode(ctx, merged); err != nil {
			return err
		}
		if err := e.recordConflict(ctx, incoming.SessionID, "node", local.ID, local, incoming, strategy, resolved); err != nil {
			return err
		}
		if resolved {
			stats.ConflictsResolved++
			stats.NodesApplied++
		}
		if semanticNote != "" {
			e.logger.Warn("semantic conflict detected", map[string]interface{}{
				"entity_type": "node", "entity_id": local.ID, "note": semanticNote,
			})
		}
		return e.appendChangelog(ctx, instanceID, incoming.SessionID, "node", local.ID, merged.IsDeleted, merged.VectorClock)
	}
	return nil
}

func (e *Engine) applyEdge(ctx context.Context, instanceID string, incoming *store.Edge, strategy store.ConflictStrategy, stats *SyncStats) error {
	key := incoming.Key()
	local, found, err := e.st.FindEdgeByOrigin(ctx, incoming.SessionID, key)
	if err != nil {
		return err
	}
	if !found {
		id, err := e.st.NextEdgeID(ctx, incoming.SessionID)
		if err != nil {
			return err
		}
		toStore := *incoming
		toStore.ID = id
		if err := e.st.UpsertEdge(ctx, &toStore); err != nil {
			return err
		}
		if toStore.IsDeleted {
			stats.TombstonesApplied++
		}
		stats.EdgesApplied++
		return e.appendChangelog(ctx, instanceID, incoming.SessionID, "edge", id, toStore.IsDeleted, toStore.VectorClock)
	}

	switch CompareClocks(VectorClock(local.VectorClock), VectorClock(incoming.VectorClock)) {
	case Equal:
		return nil
	case After:
		return nil
	case Before:
		toStore := *incoming
		toStore.ID = local.ID
		toStore.VectorClock = VectorClock(local.VectorClock).Merge(VectorClock(incoming.VectorClock)).Tick(instanceID)
		if err := e.st.UpsertEdge(ctx, &toStore); err != nil {
			return err
		}
		if toStore.IsDeleted {
			stats.TombstonesApplied++
		}
		stats.EdgesApplied++
		return e.appendChangelog(ctx, instanceID, incoming.SessionID, "edge", local.ID, toStore.IsDeleted, toStore.VectorClock)
	case Concurrent:
		stats.ConflictsDetected++
		merged, resolved := e.resolver.ResolveEdges(local, incoming, strategy)
		merged.ID = local.ID
		merged.VectorClock[instanceID] = merged.VectorClock[instanceID] + 1
		if err := e.st.UpsertEdge(ctx, merged); err != nil {
			return err
		}
		if err := e.recordConflict(ctx, incoming.SessionID, "edge", local.ID, local, incoming, strategy, resolved); err != nil {
			return err
		}
		if resolved {
			stats.ConflictsResolved++
			stats.EdgesApplied++
		}
		return e.appendChangelog(ctx, instanceID, incoming.SessionID, "edge", local.ID, merged.IsDeleted, merged.VectorClock)
	}
	return nil
}

func (e *Engine) appendChangelog(ctx context.Context, instanceID, session, entityType string, entityID int64, isDelete bool, vc map[string]uint64) error {
	op := store.OpUpdate
	if isDelete {
		op = store.OpDelete
	}
	return e.st.AppendChangelog(ctx, &store.ChangelogEntry{
		SessionID:   session,
		InstanceID:  instanceID,
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		VectorClock: vc,
		CreatedAt:   time.Now(),
	})
}

func (e *Engine) recordConflict(ctx context.Context, session, entityType string, entityID int64, local, incoming interface{}, strategy store.ConflictStrategy, resolved bool) error {
	localMap, _ := toPropertiesMap(local)
	incomingMap, _ := toPropertiesMap(incoming)
	return e.st.RecordConflict(ctx, &store.ConflictRecord{
		SessionID:  session,
		EntityType: entityType,
		EntityID:   entityID,
		Local:      localMap,
		Incoming:   incomingMap,
		Strategy:   strategy,
		Resolved:   resolved,
		DetectedAt: time.Now(),
	})
}

func toPropertiesMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case *store.Node:
		return map[string]interface{}{
			"id": t.ID, "label": t.Label, "node_type": t.NodeType,
			"properties": t.Properties, "vector_clock": t.VectorClock,
			"is_deleted": t.IsDeleted, "updated_at": t.UpdatedAt,
		}, true
	case *store.Edge:
		return map[string]interface{}{
			"id": t.ID, "edge_type": t.EdgeType, "source_id": t.SourceID,
			"target_id": t.TargetID, "properties": t.Properties,
			"vector_clock": t.VectorClock, "is_deleted": t.IsDeleted,
		}, true
	default:
		return nil, false
	}
}
