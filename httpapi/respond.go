// Package httpapi is the HTTP/TLS server: a stdlib net/http.ServeMux
// carrying every route, wrapped in the tracing -> CORS -> auth
// middleware chain, translating every package's sentinel errors into a
// stable HTTP error taxonomy. Grounded on the teacher's core/agent.go
// (mux construction, middleware ordering,
// graceful shutdown) — gomind never reaches for a third-party router,
// so neither does this server (SPEC_FULL.md §3).
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meshfabric/agentmesh/meshcore"
)

// errorResponse is the stable machine-readable shape returned on
// every non-2xx response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorResponse(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeErr maps a package-level error onto the HTTP status taxonomy.
// Internal/unexpected errors elide their detail from the response body
// and are not logged here; 5xx responses never leak internal detail to
// the client.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, meshcore.ErrInvalidInput), errors.Is(err, meshcore.ErrInvalidVectorClock):
		writeErrorResponse(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, meshcore.ErrUnauthorized):
		writeErrorResponse(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, meshcore.ErrPolicyDenied):
		writeErrorResponse(w, http.StatusForbidden, "forbidden", err.Error())
	case meshcore.IsNotFound(err):
		writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, meshcore.ErrInstanceExists),
		errors.Is(err, meshcore.ErrWorkflowCyclic),
		errors.Is(err, meshcore.ErrWorkflowDuplicateStage),
		errors.Is(err, meshcore.ErrWorkflowBadDependency),
		errors.Is(err, meshcore.ErrConflict):
		writeErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, meshcore.ErrNamespaceDisabled),
		errors.Is(err, meshcore.ErrNotProposer),
		errors.Is(err, meshcore.ErrProposalClosed),
		errors.Is(err, meshcore.ErrDelegationChainTooLong),
		errors.Is(err, meshcore.ErrWorkflowTooManyRunning):
		writeErrorResponse(w, http.StatusPreconditionFailed, "precondition_failed", err.Error())
	case errors.Is(err, meshcore.ErrTimeout):
		writeErrorResponse(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return meshcore.ErrInvalidInput
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(meshcore.ErrInvalidInput, err)
	}
	return nil
}
