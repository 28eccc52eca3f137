package httpapi

import (
	"net/http"

	"github.com/meshfabric/agentmesh/meshcore"
	"github.com/meshfabric/agentmesh/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"instance_id": s.deps.InstanceID,
		"leader_id":   s.deps.Registry.LeaderID(),
	})
}

func (s *Server) handleCert(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.TLS.Info())
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}

	cred, ok, err := s.deps.Store.GetCredential(r.Context(), req.Username)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok || !s.deps.Auth.VerifyPassword(req.Password, cred.PasswordHash) {
		writeErrorResponse(w, http.StatusUnauthorized, "unauthenticated", "invalid username or password")
		return
	}

	token, err := s.deps.Auth.GenerateToken(req.Username)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token})
}

type hashRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleAuthHash provisions (or rotates) a credential. It is public so
// the very first administrator can be created before any token exists;
// operators are expected to disable it once the initial credential set
// is provisioned.
func (s *Server) handleAuthHash(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}

	hash, err := s.deps.Auth.HashPassword(req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.deps.Store.PutCredential(r.Context(), &store.Credential{Username: req.Username, PasswordHash: hash}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"username": req.Username})
}

// handleAgents reports every registered instance alongside this node's
// locally tracked capability specializations, giving a caller enough to
// pick a delegation target without a separate round trip.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	instances := s.deps.Registry.List()
	var specializations []string
	if s.deps.Capability != nil {
		specializations = s.deps.Capability.Specializations()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instances":       instances,
		"specializations": specializations,
	})
}

type bootstrapRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleBootstrap provisions the first administrative credential and
// reports the node's TLS fingerprint so the caller can pin it, a
// one-time convenience combining /auth/hash and /cert (supplemented
// from original_source/'s first-run flow).
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	hash, err := s.deps.Auth.HashPassword(req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.deps.Store.PutCredential(r.Context(), &store.Credential{Username: req.Username, PasswordHash: hash}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username":    req.Username,
		"instance_id": s.deps.InstanceID,
		"fingerprint": s.deps.TLS.Fingerprint(),
	})
}
