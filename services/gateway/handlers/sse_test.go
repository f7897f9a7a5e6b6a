package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nonFlushingWriter implements http.ResponseWriter but deliberately not
// http.Flusher, to exercise NewSSEWriter's error path.
type nonFlushingWriter struct {
	header http.Header
	body   []byte
	status int
}

func (w *nonFlushingWriter) Header() http.Header { return w.header }
func (w *nonFlushingWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return len(b), nil
}
func (w *nonFlushingWriter) WriteHeader(status int) { w.status = status }

func TestNewSSEWriterRejectsNonFlushingWriter(t *testing.T) {
	w := &nonFlushingWriter{header: http.Header{}}
	_, err := NewSSEWriter(w)
	assert.Error(t, err)
}

func TestNewSSEWriterWritesDataAndDoneFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteData(map[string]string{"hello": "world"}))
	require.NoError(t, writer.WriteDone())

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"hello":"world"}`)
	assert.Contains(t, body, "data: [DONE]")
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
