package httpapi

import (
	"net/http"
	"strconv"

	"github.com/meshfabric/agentmesh/graph"
	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

type syncRequestBody struct {
	InstanceID  string            `json:"instance_id"`
	Session     string            `json:"session_id"`
	Graph       string            `json:"graph_name"`
	VectorClock graph.VectorClock `json:"vector_clock"`
}

// handleSyncRequest answers a peer's pull: decide full vs incremental
// vs none against their vector clock and return the matching payload.
func (s *Server) handleSyncRequest(w http.ResponseWriter, r *http.Request) {
	var req syncRequestBody
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Session == "" || req.Graph == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}

	strategy, err := s.deps.Graph.DecideSyncStrategy(r.Context(), s.deps.InstanceID, req.Session, req.Graph, req.VectorClock)
	if err != nil {
		writeErr(w, err)
		return
	}

	var payload *graph.GraphSyncPayload
	switch strategy {
	case graph.StrategyFull:
		payload, err = s.deps.Graph.SyncFull(r.Context(), s.deps.InstanceID, req.Session, req.Graph)
	case graph.StrategyIncremental:
		payload, err = s.deps.Graph.SyncIncremental(r.Context(), s.deps.InstanceID, req.Session, req.Graph, req.VectorClock)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"sync_type": graph.StrategyNone})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type syncApplyBody struct {
	Payload  graph.GraphSyncPayload `json:"payload"`
	Strategy store.ConflictStrategy `json:"conflict_strategy"`
}

// handleSyncApply merges a received payload into local state. Applying
// must be atomic from the caller's perspective — the
// underlying engine call either fully applies the payload or returns an
// error with nothing durably changed beyond what it already committed
// entity-by-entity, consistent with apply_sync's per-entity upsert model.
func (s *Server) handleSyncApply(w http.ResponseWriter, r *http.Request) {
	var req syncApplyBody
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Strategy == "" {
		req.Strategy = store.StrategyVectorClock
	}
	stats, err := s.deps.Graph.ApplySync(r.Context(), s.deps.InstanceID, &req.Payload, req.Strategy)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	session, graphName := r.PathValue("session"), r.PathValue("graph")
	state, ok, err := s.deps.Store.GetSyncState(r.Context(), s.deps.InstanceID, session, graphName)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "no sync state recorded for this namespace")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSyncEnable(w http.ResponseWriter, r *http.Request) {
	session, graphName := r.PathValue("session"), r.PathValue("graph")
	cfg, ok, err := s.deps.Store.GetSyncConfig(r.Context(), session, graphName)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		cfg = &store.SyncConfig{SessionID: session, GraphName: graphName, ConflictResolutionStrategy: store.StrategyVectorClock, SyncIntervalSeconds: 30}
	}
	cfg.SyncEnabled = true
	if err := s.deps.Store.PutSyncConfig(r.Context(), cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSyncConfigs(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	configs, err := s.deps.Store.ListSyncConfigs(r.Context(), session)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

type syncBulkRequest struct {
	Graphs  []string `json:"graphs"`
	Enabled bool     `json:"enabled"`
}

// handleSyncBulk toggles sync_enabled across every named graph in one
// call, supplementing the per-graph /sync/enable endpoint for operators
// managing many namespaces at once (original_source/, SPEC_FULL.md §5).
func (s *Server) handleSyncBulk(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	var req syncBulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	updated := make([]*store.SyncConfig, 0, len(req.Graphs))
	for _, g := range req.Graphs {
		cfg, ok, err := s.deps.Store.GetSyncConfig(r.Context(), session, g)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ok {
			cfg = &store.SyncConfig{SessionID: session, GraphName: g, ConflictResolutionStrategy: store.StrategyVectorClock, SyncIntervalSeconds: 30}
		}
		cfg.SyncEnabled = req.Enabled
		if err := s.deps.Store.PutSyncConfig(r.Context(), cfg); err != nil {
			writeErr(w, err)
			return
		}
		updated = append(updated, cfg)
	}
	writeJSON(w, http.StatusOK, updated)
}

type syncConfigureRequest struct {
	ConflictResolutionStrategy store.ConflictStrategy `json:"conflict_resolution_strategy"`
	SyncIntervalSeconds        int                    `json:"sync_interval_seconds"`
}

func (s *Server) handleSyncConfigure(w http.ResponseWriter, r *http.Request) {
	session, graphName := r.PathValue("session"), r.PathValue("graph")
	var req syncConfigureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	cfg, ok, err := s.deps.Store.GetSyncConfig(r.Context(), session, graphName)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		cfg = &store.SyncConfig{SessionID: session, GraphName: graphName}
	}
	if req.ConflictResolutionStrategy != "" {
		switch req.ConflictResolutionStrategy {
		case store.StrategyVectorClock, store.StrategyLastWriteWins, store.StrategyManual:
		default:
			writeErr(w, meshcore.ErrInvalidInput)
			return
		}
		cfg.ConflictResolutionStrategy = req.ConflictResolutionStrategy
	}
	if req.SyncIntervalSeconds > 0 {
		cfg.SyncIntervalSeconds = req.SyncIntervalSeconds
	}
	if err := s.deps.Store.PutSyncConfig(r.Context(), cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleSyncConflicts lists recorded conflicts, optionally filtered by
// resolved=true|false.
func (s *Server) handleSyncConflicts(w http.ResponseWriter, r *http.Request) {
	var filter *bool
	if v := r.URL.Query().Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(w, meshcore.ErrInvalidInput)
			return
		}
		filter = &b
	}
	conflicts, err := s.deps.Store.ListConflicts(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}
