// Package store defines the abstract persistence contract that the graph
// sync engine, mesh registry, consensus coordinator, delegation manager,
// and workflow engine all read and write through. The concrete storage
// engine is out of scope; this package is the interface plus a reference
// in-memory implementation (MemStore) sufficient to run and test the
// rest of the substrate.
package store

import (
	"context"
	"time"
)

// Node is the persisted form of a graph node.
type Node struct {
	ID               int64                  `json:"id"`
	SessionID        string                 `json:"session_id"`
	OriginInstanceID string                 `json:"origin_instance_id"`
	OriginLocalID    int64                  `json:"origin_local_id"`
	NodeType         string                 `json:"node_type"`
	Label            string                 `json:"label"`
	Properties       map[string]interface{} `json:"properties"`
	EmbeddingID      string                 `json:"embedding_id,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	VectorClock      map[string]uint64      `json:"vector_clock"`
	LastModifiedBy   string                 `json:"last_modified_by"`
	IsDeleted        bool                   `json:"is_deleted"`
	SyncEnabled      bool                   `json:"sync_enabled"`
}

// EntityKey is the replicated identity of a node or edge: the pair of
// originating instance and the id that instance assigned locally. This,
// not the per-session numeric id, is what cross-instance comparisons
// use.
type EntityKey struct {
	OriginInstanceID string
	OriginLocalID    int64
}

func (n *Node) Key() EntityKey {
	return EntityKey{OriginInstanceID: n.OriginInstanceID, OriginLocalID: n.OriginLocalID}
}

// Edge is the persisted form of a graph edge.
type Edge struct {
	ID               int64                  `json:"id"`
	SessionID        string                 `json:"session_id"`
	OriginInstanceID string                 `json:"origin_instance_id"`
	OriginLocalID    int64                  `json:"origin_local_id"`
	SourceID         int64                  `json:"source_id"`
	TargetID         int64                  `json:"target_id"`
	EdgeType         string                 `json:"edge_type"`
	Predicate        string                 `json:"predicate,omitempty"`
	Properties       map[string]interface{} `json:"properties,omitempty"`
	Weight           float32                `json:"weight"`
	TemporalStart    *time.Time             `json:"temporal_start,omitempty"`
	TemporalEnd      *time.Time             `json:"temporal_end,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	VectorClock      map[string]uint64      `json:"vector_clock"`
	LastModifiedBy   string                 `json:"last_modified_by"`
	IsDeleted        bool                   `json:"is_deleted"`
	SyncEnabled      bool                   `json:"sync_enabled"`
}

func (e *Edge) Key() EntityKey {
	return EntityKey{OriginInstanceID: e.OriginInstanceID, OriginLocalID: e.OriginLocalID}
}

// ChangelogOperation enumerates changelog entry kinds.
type ChangelogOperation string

const (
	OpCreate ChangelogOperation = "create"
	OpUpdate ChangelogOperation = "update"
	OpDelete ChangelogOperation = "delete"
)

// ChangelogEntry is an append-only mutation record.
type ChangelogEntry struct {
	ID          int64                  `json:"id"`
	SessionID   string                 `json:"session_id"`
	InstanceID  string                 `json:"instance_id"`
	EntityType  string                 `json:"entity_type"` // "node" | "edge"
	EntityID    int64                  `json:"entity_id"`
	Operation   ChangelogOperation     `json:"operation"`
	VectorClock map[string]uint64      `json:"vector_clock"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// SyncState is the per (instance, session, graph) sync checkpoint.
type SyncState struct {
	InstanceID  string
	SessionID   string
	GraphName   string
	VectorClock map[string]uint64
	LastSyncAt  time.Time
}

// ConflictStrategy enumerates per-namespace conflict resolution policy.
type ConflictStrategy string

const (
	StrategyVectorClock   ConflictStrategy = "vector_clock"
	StrategyLastWriteWins ConflictStrategy = "last_write_wins"
	StrategyManual        ConflictStrategy = "manual"
)

// SyncConfig is the per (session, graph) sync policy.
type SyncConfig struct {
	SessionID                  string
	GraphName                  string
	SyncEnabled                bool
	ConflictResolutionStrategy ConflictStrategy
	SyncIntervalSeconds        int
}

// ToolExecution records one tool dispatch outcome for audit.
type ToolExecution struct {
	ID        int64
	ToolName  string
	Args      map[string]interface{}
	Success   bool
	Output    map[string]interface{}
	Error     string
	CreatedAt time.Time
}

// ConflictRecord stores both competing versions of an entity verbatim,
// keyed by (session, entity_type, entity_id, detected_at).
type ConflictRecord struct {
	ID         int64
	SessionID  string
	EntityType string
	EntityID   int64
	Local      map[string]interface{}
	Incoming   map[string]interface{}
	Strategy   ConflictStrategy
	Resolved   bool
	DetectedAt time.Time
}

// Credential is a stored username/password-hash pair.
type Credential struct {
	Username     string
	PasswordHash string // base64(salt || pbkdf2(pw, salt, iterations))
}

// Store is the abstract persistence contract. Implementations must be
// safe for concurrent use; callers are not required to hold external
// locks across calls into it.
type Store interface {
	// Nodes
	UpsertNode(ctx context.Context, n *Node) error
	GetNode(ctx context.Context, sessionID string, id int64) (*Node, bool, error)
	FindNodeByOrigin(ctx context.Context, sessionID string, key EntityKey) (*Node, bool, error)
	ListNodes(ctx context.Context, sessionID string, includeDeleted bool) ([]*Node, error)
	NextNodeID(ctx context.Context, sessionID string) (int64, error)

	// Edges
	UpsertEdge(ctx context.Context, e *Edge) error
	GetEdge(ctx context.Context, sessionID string, id int64) (*Edge, bool, error)
	FindEdgeByOrigin(ctx context.Context, sessionID string, key EntityKey) (*Edge, bool, error)
	ListEdges(ctx context.Context, sessionID string, includeDeleted bool) ([]*Edge, error)
	NextEdgeID(ctx context.Context, sessionID string) (int64, error)

	// Changelog
	AppendChangelog(ctx context.Context, entry *ChangelogEntry) error
	ChangelogSince(ctx context.Context, sessionID string, since time.Time) ([]*ChangelogEntry, error)

	// Sync state / config
	GetSyncState(ctx context.Context, instanceID, sessionID, graphName string) (*SyncState, bool, error)
	PutSyncState(ctx context.Context, s *SyncState) error
	GetSyncConfig(ctx context.Context, sessionID, graphName string) (*SyncConfig, bool, error)
	PutSyncConfig(ctx context.Context, c *SyncConfig) error
	ListSyncConfigs(ctx context.Context, sessionID string) ([]*SyncConfig, error)
	ListSyncEnabledNamespaces(ctx context.Context) ([]*SyncConfig, error)

	// Tool executions
	LogToolExecution(ctx context.Context, ex *ToolExecution) error

	// Conflicts
	RecordConflict(ctx context.Context, c *ConflictRecord) error
	ListConflicts(ctx context.Context, resolvedFilter *bool) ([]*ConflictRecord, error)

	// Credentials
	GetCredential(ctx context.Context, username string) (*Credential, bool, error)
	PutCredential(ctx context.Context, c *Credential) error
}
