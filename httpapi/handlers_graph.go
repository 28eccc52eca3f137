package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

func sessionParam(r *http.Request) string {
	return r.URL.Query().Get("session")
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	session := sessionParam(r)
	if session == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	nodes, err := s.deps.Store.ListNodes(r.Context(), session, includeDeleted)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var n store.Node
	if err := decodeJSON(r, &n); err != nil {
		writeErr(w, err)
		return
	}
	if n.SessionID == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	created, err := s.deps.Graph.CreateNode(r.Context(), s.deps.InstanceID, &n)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	session := sessionParam(r)
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if session == "" || err != nil {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	n, ok, err := s.deps.Store.GetNode(r.Context(), session, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, meshcore.ErrNodeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	session := sessionParam(r)
	id, errID := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if session == "" || errID != nil {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	var patch map[string]interface{}
	if err := decodeJSON(r, &patch); err != nil {
		writeErr(w, err)
		return
	}
	updated, err := s.deps.Graph.UpdateNode(r.Context(), s.deps.InstanceID, session, id, patch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	session := sessionParam(r)
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if session == "" || err != nil {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	if err := s.deps.Graph.DeleteNode(r.Context(), s.deps.InstanceID, session, id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEdges(w http.ResponseWriter, r *http.Request) {
	session := sessionParam(r)
	if session == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	edges, err := s.deps.Store.ListEdges(r.Context(), session, includeDeleted)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edges)
}

func (s *Server) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var ed store.Edge
	if err := decodeJSON(r, &ed); err != nil {
		writeErr(w, err)
		return
	}
	if ed.SessionID == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	created, err := s.deps.Graph.CreateEdge(r.Context(), s.deps.InstanceID, &ed)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	session := sessionParam(r)
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if session == "" || err != nil {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	if err := s.deps.Graph.DeleteEdge(r.Context(), s.deps.InstanceID, session, id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGraphStream streams changelog entries for a session as
// server-sent events, polling the store at a fixed cadence until the
// client disconnects.
func (s *Server) handleGraphStream(w http.ResponseWriter, r *http.Request) {
	session := sessionParam(r)
	if session == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	sink, ok := newSSEWriter(w)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	since := time.Now()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			entries, err := s.deps.Store.ChangelogSince(r.Context(), session, since)
			if err != nil {
				sink.writeEvent("error", map[string]interface{}{"message": err.Error()})
				return
			}
			if len(entries) > 0 {
				since = entries[len(entries)-1].CreatedAt
			}
			for _, entry := range entries {
				if !sink.writeEvent("change", entry) {
					return
				}
			}
		}
	}
}
