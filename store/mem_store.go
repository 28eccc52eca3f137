package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is the reference in-memory Store implementation, grounded on
// the teacher's core.MemoryStore pattern (mutex-guarded maps, no
// background eviction beyond what the caller drives). It is the default
// backing for a single mesh node and for tests; production deployments
// are expected to supply their own Store.
type MemStore struct {
	mu sync.RWMutex

	nodesBySession map[string]map[int64]*Node
	nodeByOrigin   map[string]map[EntityKey]int64
	nextNodeID     map[string]int64

	edgesBySession map[string]map[int64]*Edge
	edgeByOrigin   map[string]map[EntityKey]int64
	nextEdgeID     map[string]int64

	changelog       map[string][]*ChangelogEntry
	nextChangelogID int64

	syncState  map[string]*SyncState  // key: instance|session|graph
	syncConfig map[string]*SyncConfig // key: session|graph

	toolExecutions []*ToolExecution
	nextToolExecID int64

	conflicts      []*ConflictRecord
	nextConflictID int64

	credentials map[string]*Credential
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		nodesBySession: make(map[string]map[int64]*Node),
		nodeByOrigin:   make(map[string]map[EntityKey]int64),
		nextNodeID:     make(map[string]int64),
		edgesBySession: make(map[string]map[int64]*Edge),
		edgeByOrigin:   make(map[string]map[EntityKey]int64),
		nextEdgeID:     make(map[string]int64),
		changelog:      make(map[string][]*ChangelogEntry),
		syncState:      make(map[string]*SyncState),
		syncConfig:     make(map[string]*SyncConfig),
		credentials:    make(map[string]*Credential),
	}
}

func syncStateKey(instanceID, sessionID, graphName string) string {
	return instanceID + "|" + sessionID + "|" + graphName
}

func syncConfigKey(sessionID, graphName string) string {
	return sessionID + "|" + graphName
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneClock(c map[string]uint64) map[string]uint64 {
	if c == nil {
		return nil
	}
	out := make(map[string]uint64, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Properties = cloneMap(n.Properties)
	cp.VectorClock = cloneClock(n.VectorClock)
	return &cp
}

func cloneEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Properties = cloneMap(e.Properties)
	cp.VectorClock = cloneClock(e.VectorClock)
	return &cp
}

// UpsertNode inserts or replaces a node, keeping both the per-session id
// index and the origin-identity index consistent.
func (m *MemStore) UpsertNode(ctx context.Context, n *Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nodesBySession[n.SessionID] == nil {
		m.nodesBySession[n.SessionID] = make(map[int64]*Node)
	}
	if m.nodeByOrigin[n.SessionID] == nil {
		m.nodeByOrigin[n.SessionID] = make(map[EntityKey]int64)
	}

	stored := cloneNode(n)
	m.nodesBySession[n.SessionID][n.ID] = stored
	m.nodeByOrigin[n.SessionID][n.Key()] = n.ID

	if n.ID >= m.nextNodeID[n.SessionID] {
		m.nextNodeID[n.SessionID] = n.ID + 1
	}
	return nil
}

func (m *MemStore) GetNode(ctx context.Context, sessionID string, id int64) (*Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodesBySession[sessionID][id]
	return cloneNode(n), ok, nil
}

func (m *MemStore) FindNodeByOrigin(ctx context.Context, sessionID string, key EntityKey) (*Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.nodeByOrigin[sessionID][key]
	if !ok {
		return nil, false, nil
	}
	n, ok := m.nodesBySession[sessionID][id]
	return cloneNode(n), ok, nil
}

func (m *MemStore) ListNodes(ctx context.Context, sessionID string, includeDeleted bool) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Node
	for _, n := range m.nodesBySession[sessionID] {
		if !includeDeleted && n.IsDeleted {
			continue
		}
		out = append(out, cloneNode(n))
	}
	return out, nil
}

func (m *MemStore) NextNodeID(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextNodeID[sessionID] + 1
	m.nextNodeID[sessionID] = id
	return id, nil
}

func (m *MemStore) UpsertEdge(ctx context.Context, e *Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.edgesBySession[e.SessionID] == nil {
		m.edgesBySession[e.SessionID] = make(map[int64]*Edge)
	}
	if m.edgeByOrigin[e.SessionID] == nil {
		m.edgeByOrigin[e.SessionID] = make(map[EntityKey]int64)
	}
	stored := cloneEdge(e)
	m.edgesBySession[e.SessionID][e.ID] = stored
	m.edgeByOrigin[e.SessionID][e.Key()] = e.ID
	if e.ID >= m.nextEdgeID[e.SessionID] {
		m.nextEdgeID[e.SessionID] = e.ID + 1
	}
	return nil
}

func (m *MemStore) GetEdge(ctx context.Context, sessionID string, id int64) (*Edge, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edgesBySession[sessionID][id]
	return cloneEdge(e), ok, nil
}

func (m *MemStore) FindEdgeByOrigin(ctx context.Context, sessionID string, key EntityKey) (*Edge, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.edgeByOrigin[sessionID][key]
	if !ok {
		return nil, false, nil
	}
	e, ok := m.edgesBySession[sessionID][id]
	return cloneEdge(e), ok, nil
}

func (m *MemStore) ListEdges(ctx context.Context, sessionID string, includeDeleted bool) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Edge
	for _, e := range m.edgesBySession[sessionID] {
		if !includeDeleted && e.IsDeleted {
			continue
		}
		out = append(out, cloneEdge(e))
	}
	return out, nil
}

func (m *MemStore) NextEdgeID(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextEdgeID[sessionID] + 1
	m.nextEdgeID[sessionID] = id
	return id, nil
}

func (m *MemStore) AppendChangelog(ctx context.Context, entry *ChangelogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChangelogID++
	entry.ID = m.nextChangelogID
	cp := *entry
	cp.VectorClock = cloneClock(entry.VectorClock)
	cp.Data = cloneMap(entry.Data)
	m.changelog[entry.SessionID] = append(m.changelog[entry.SessionID], &cp)
	return nil
}

func (m *MemStore) ChangelogSince(ctx context.Context, sessionID string, since time.Time) ([]*ChangelogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ChangelogEntry
	for _, e := range m.changelog[sessionID] {
		if !e.CreatedAt.Before(since) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) GetSyncState(ctx context.Context, instanceID, sessionID, graphName string) (*SyncState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.syncState[syncStateKey(instanceID, sessionID, graphName)]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	cp.VectorClock = cloneClock(s.VectorClock)
	return &cp, true, nil
}

func (m *MemStore) PutSyncState(ctx context.Context, s *SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.VectorClock = cloneClock(s.VectorClock)
	m.syncState[syncStateKey(s.InstanceID, s.SessionID, s.GraphName)] = &cp
	return nil
}

func (m *MemStore) GetSyncConfig(ctx context.Context, sessionID, graphName string) (*SyncConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.syncConfig[syncConfigKey(sessionID, graphName)]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (m *MemStore) PutSyncConfig(ctx context.Context, c *SyncConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.syncConfig[syncConfigKey(c.SessionID, c.GraphName)] = &cp
	return nil
}

func (m *MemStore) ListSyncConfigs(ctx context.Context, sessionID string) ([]*SyncConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*SyncConfig
	for _, c := range m.syncConfig {
		if c.SessionID == sessionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) ListSyncEnabledNamespaces(ctx context.Context) ([]*SyncConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*SyncConfig
	for _, c := range m.syncConfig {
		if c.SyncEnabled {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) LogToolExecution(ctx context.Context, ex *ToolExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextToolExecID++
	cp := *ex
	cp.ID = m.nextToolExecID
	cp.Args = cloneMap(ex.Args)
	cp.Output = cloneMap(ex.Output)
	m.toolExecutions = append(m.toolExecutions, &cp)
	return nil
}

func (m *MemStore) RecordConflict(ctx context.Context, c *ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextConflictID++
	cp := *c
	cp.ID = m.nextConflictID
	cp.Local = cloneMap(c.Local)
	cp.Incoming = cloneMap(c.Incoming)
	m.conflicts = append(m.conflicts, &cp)
	return nil
}

func (m *MemStore) ListConflicts(ctx context.Context, resolvedFilter *bool) ([]*ConflictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ConflictRecord
	for _, c := range m.conflicts {
		if resolvedFilter != nil && c.Resolved != *resolvedFilter {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemStore) GetCredential(ctx context.Context, username string) (*Credential, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[username]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (m *MemStore) PutCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.credentials[c.Username] = &cp
	return nil
}

var _ Store = (*MemStore)(nil)
