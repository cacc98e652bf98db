package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter streams server-sent events. Every event is flushed
// immediately and the stream is always closed with [DONE].
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Event marshals v and writes it as one data event.
func (s *sseWriter) Event(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Error writes the uniform error event.
func (s *sseWriter) Error(message, kind string) {
	_ = s.Event(map[string]any{
		"error": map[string]string{"message": message, "type": kind},
	})
}

// Done terminates the stream.
func (s *sseWriter) Done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
