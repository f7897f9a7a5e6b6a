// Package handlers implements the gateway's HTTP and WebSocket endpoints
// (spec.md §4.H). The streaming envelope in this file is grounded on the
// teacher's handlers/sse_writer.go (SSEWriter interface, SetSSEHeaders,
// flush-per-event), simplified from that file's hash-chained
// datatypes.StreamEvent (SHA-256 Hash/PrevHash integrity chain — no
// chain-of-custody requirement in this spec) down to the plain
// `data: <json>\n\n` / `data: [DONE]\n\n` framing spec.md §6 requires.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter writes Server-Sent Events frames to an HTTP response,
// flushing after every write so a client sees chunks as they are
// produced rather than buffered until the response closes.
type SSEWriter interface {
	// WriteData writes one `data: <json>\n\n` frame for payload.
	WriteData(payload any) error

	// WriteDone writes the terminal `data: [DONE]\n\n` sentinel
	// (spec.md §6: "terminated by data: [DONE]\n\n").
	WriteDone() error
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter wraps w for SSE writes. SetSSEHeaders must already have
// been called. Returns an error if w does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("handlers: response writer does not support flushing")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) WriteData(payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) WriteDone() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response headers spec.md §4.H's streaming
// path requires, matching the teacher's SetSSEHeaders exactly (including
// X-Accel-Buffering: no to disable reverse-proxy buffering).
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
