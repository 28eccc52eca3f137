package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter emits text/event-stream frames, flushing after every write
// so a long-poll client sees each event as it's produced.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

// writeEvent encodes payload as JSON under the given SSE event name.
// Returns false if the write failed (client almost certainly gone).
func (s *sseWriter) writeEvent(event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}
	s.flusher.Flush()
	return true
}
