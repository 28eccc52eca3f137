package httpapi

import (
	"net/http"

	"github.com/meshfabric/agentmesh/mesh"
	"github.com/meshfabric/agentmesh/meshcore"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var info mesh.Instance
	if err := decodeJSON(r, &info); err != nil {
		writeErr(w, err)
		return
	}
	if info.InstanceID == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	result := s.deps.Registry.Register(info)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRegistryAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

type heartbeatRequest struct {
	SyncGraphs []mesh.GraphSyncState `json:"sync_graphs"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req heartbeatRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, err)
			return
		}
	}
	result, ok := s.deps.Registry.Heartbeat(id, req.SyncGraphs)
	if !ok {
		writeErr(w, meshcore.ErrInstanceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.deps.Registry.Deregister(id)
	w.WriteHeader(http.StatusNoContent)
}
