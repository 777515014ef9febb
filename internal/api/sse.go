package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/verity-labs/docvox/internal/service"
)

// SSEWriter sends chat stream events over a Server-Sent Events response.
// Each event is flushed immediately so tokens reach the client as they
// arrive.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares w for an SSE stream and writes the stream headers.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one event as a `data:` frame and flushes it.
func (s *SSEWriter) Send(event service.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return fmt.Errorf("failed to write stream event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
