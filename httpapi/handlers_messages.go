package httpapi

import (
	"net/http"

	"github.com/meshfabric/agentmesh/meshcore"
)

type sendMessageRequest struct {
	Target        string                 `json:"target,omitempty"`
	Type          string                 `json:"type"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	src := r.PathValue("src")
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id, delivered, err := s.deps.Router.Send(src, req.Target, req.Type, req.Payload, req.CorrelationID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message_id": id, "delivered_to": delivered})
}

func (s *Server) handleMessageGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages := s.deps.Router.Get(id)
	writeJSON(w, http.StatusOK, messages)
}

type ackRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (s *Server) handleMessageAck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.MessageIDs) == 0 {
		writeErr(w, meshcore.ErrInvalidInput)
		return
	}
	s.deps.Router.Ack(id, req.MessageIDs)
	w.WriteHeader(http.StatusNoContent)
}
