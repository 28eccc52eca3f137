package httpapi

import (
	"net/http"

	"github.com/meshfabric/agentmesh/meshcore"
)

type queryRequest struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// handleQuery dispatches a single tool call through the policy
// dispatcher, applying the agent's policy check first. The calling
// agent identity is the authenticated principal.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Tool == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}

	agent, _ := principalFromContext(r.Context())
	if !s.deps.Policy.CheckTool(agent, req.Tool) {
		writeErr(w, meshcore.ErrPolicyDenied)
		return
	}

	result := s.deps.Dispatcher.Execute(r.Context(), req.Tool, req.Args)
	writeJSON(w, http.StatusOK, result)
}

// streamChunk is the shape of every /stream SSE frame:
// {type, ...} with Start/Content/ToolCall/ToolResult/End/Error variants.
type streamChunk struct {
	Type string `json:"type"`

	SessionID string                 `json:"session_id,omitempty"`
	Agent     string                 `json:"agent,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    interface{}            `json:"result,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// handleStream runs the same tool dispatch as /query but reports its
// progress as an SSE chunk sequence: Start, ToolCall, ToolResult, End.
// A policy denial sends Error right after Start; a failed tool call
// sends its ToolResult followed by Error in place of End.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Tool == "" {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}

	agent, _ := principalFromContext(r.Context())
	sink, ok := newSSEWriter(w)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	if !sink.writeEvent("start", streamChunk{Type: "start", Agent: agent}) {
		return
	}
	if !s.deps.Policy.CheckTool(agent, req.Tool) {
		sink.writeEvent("error", streamChunk{Type: "error", Message: meshcore.ErrPolicyDenied.Error()})
		return
	}
	if !sink.writeEvent("tool_call", streamChunk{Type: "tool_call", Name: req.Tool, Arguments: req.Args}) {
		return
	}

	result := s.deps.Dispatcher.Execute(r.Context(), req.Tool, req.Args)
	if !result.Success {
		sink.writeEvent("tool_result", streamChunk{Type: "tool_result", Name: req.Tool, Result: result})
		sink.writeEvent("error", streamChunk{Type: "error", Message: result.Error})
		return
	}
	if !sink.writeEvent("tool_result", streamChunk{Type: "tool_result", Name: req.Tool, Result: result}) {
		return
	}
	sink.writeEvent("end", streamChunk{Type: "end", Metadata: map[string]interface{}{"tool": req.Tool}})
}

type searchRequest struct {
	Mode           string    `json:"mode"` // "by_type" | "by_tags" | "by_embedding"
	TaskType       string    `json:"task_type,omitempty"`
	MinSuccessRate float64   `json:"min_success_rate,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Embedding      []float64 `json:"embedding,omitempty"`
	Threshold      float64   `json:"threshold,omitempty"`
}

// handleSearch is the learning fabric's query surface: looks up
// previously recorded strategies by task type, tag overlap, or
// embedding similarity.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	switch req.Mode {
	case "by_type":
		writeJSON(w, http.StatusOK, s.deps.Learning.QueryByType(req.TaskType, req.MinSuccessRate))
	case "by_tags":
		writeJSON(w, http.StatusOK, s.deps.Learning.QueryByTags(req.Tags))
	case "by_embedding":
		writeJSON(w, http.StatusOK, s.deps.Learning.QueryByEmbedding(req.Embedding, req.Threshold))
	default:
		writeErr(w, meshcore.ErrInvalidInput)
	}
}
