package graph

import (
	"context"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

// CreateNode assigns a fresh per-session id, ticks instanceID's vector
// clock, and appends the corresponding changelog entry — the local
// counterpart to applyNode's replicated path.
func (e *Engine) CreateNode(ctx context.Context, instanceID string, n *store.Node) (*store.Node, error) {
	id, err := e.st.NextNodeID(ctx, n.SessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	n.ID = id
	if n.OriginInstanceID == "" {
		n.OriginInstanceID = instanceID
		n.OriginLocalID = id
	}
	n.CreatedAt = now
	n.UpdatedAt = now
	n.VectorClock = NewVectorClock().Tick(instanceID)
	n.LastModifiedBy = instanceID

	if err := e.st.UpsertNode(ctx, n); err != nil {
		return nil, err
	}
	if err := e.appendChangelog(ctx, instanceID, n.SessionID, "node", n.ID, false, n.VectorClock); err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateNode merges patch into the stored node, ticks the vector clock,
// and appends a changelog entry.
func (e *Engine) UpdateNode(ctx context.Context, instanceID, session string, id int64, patch map[string]interface{}) (*store.Node, error) {
	n, ok, err := e.st.GetNode(ctx, session, id)
	if err != nil {
		return nil, err
	}
	if !ok || n.IsDeleted {
		return nil, meshcore.ErrNodeNotFound
	}
	if n.Properties == nil {
		n.Properties = make(map[string]interface{})
	}
	for k, v := range patch {
		n.Properties[k] = v
	}
	n.UpdatedAt = time.Now()
	n.VectorClock = VectorClock(n.VectorClock).Tick(instanceID)
	n.LastModifiedBy = instanceID

	if err := e.st.UpsertNode(ctx, n); err != nil {
		return nil, err
	}
	if err := e.appendChangelog(ctx, instanceID, session, "node", n.ID, false, n.VectorClock); err != nil {
		return nil, err
	}
	return n, nil
}

// DeleteNode tombstones a node rather than removing it, so replicas
// that haven't yet seen the delete can still causally order it.
func (e *Engine) DeleteNode(ctx context.Context, instanceID, session string, id int64) error {
	n, ok, err := e.st.GetNode(ctx, session, id)
	if err != nil {
		return err
	}
	if !ok {
		return meshcore.ErrNodeNotFound
	}
	n.IsDeleted = true
	n.UpdatedAt = time.Now()
	n.VectorClock = VectorClock(n.VectorClock).Tick(instanceID)
	n.LastModifiedBy = instanceID

	if err := e.st.UpsertNode(ctx, n); err != nil {
		return err
	}
	return e.appendChangelog(ctx, instanceID, session, "node", n.ID, true, n.VectorClock)
}

// CreateEdge is CreateNode's counterpart for edges.
func (e *Engine) CreateEdge(ctx context.Context, instanceID string, ed *store.Edge) (*store.Edge, error) {
	id, err := e.st.NextEdgeID(ctx, ed.SessionID)
	if err != nil {
		return nil, err
	}
	ed.ID = id
	if ed.OriginInstanceID == "" {
		ed.OriginInstanceID = instanceID
		ed.OriginLocalID = id
	}
	ed.CreatedAt = time.Now()
	ed.VectorClock = NewVectorClock().Tick(instanceID)
	ed.LastModifiedBy = instanceID

	if err := e.st.UpsertEdge(ctx, ed); err != nil {
		return nil, err
	}
	if err := e.appendChangelog(ctx, instanceID, ed.SessionID, "edge", ed.ID, false, ed.VectorClock); err != nil {
		return nil, err
	}
	return ed, nil
}

// DeleteEdge tombstones an edge.
func (e *Engine) DeleteEdge(ctx context.Context, instanceID, session string, id int64) error {
	ed, ok, err := e.st.GetEdge(ctx, session, id)
	if err != nil {
		return err
	}
	if !ok {
		return meshcore.ErrEdgeNotFound
	}
	ed.IsDeleted = true
	ed.VectorClock = VectorClock(ed.VectorClock).Tick(instanceID)
	ed.LastModifiedBy = instanceID

	if err := e.st.UpsertEdge(ctx, ed); err != nil {
		return err
	}
	return e.appendChangelog(ctx, instanceID, session, "edge", ed.ID, true, ed.VectorClock)
}
