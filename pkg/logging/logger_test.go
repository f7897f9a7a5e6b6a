package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutLogDirWritesToStderr(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = orig }()

	logger := New(Config{Level: LevelInfo, Service: "gatewayd"})
	logger.Info("hello from test", "key", "value")

	w.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	os.Stderr = orig

	out := buf.String()
	assert.Contains(t, out, "hello from test")
	assert.Contains(t, out, "service=gatewayd")
}

func TestNewRespectsConfiguredLevel(t *testing.T) {
	logger := New(Config{Level: LevelError})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestNewJSONWritesJSONToStderr(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = w

	logger := New(Config{Level: LevelInfo, JSON: true})
	logger.Info("json line")

	w.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	os.Stderr = orig

	assert.Contains(t, buf.String(), `"msg":"json line"`)
}

func TestNewWithLogDirAlsoWritesDatedJSONFile(t *testing.T) {
	dir := t.TempDir()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = w

	logger := New(Config{Level: LevelInfo, Service: "myservice", LogDir: dir})
	logger.Info("written to both sinks")

	w.Close()
	os.Stderr = orig
	r.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "myservice_"))

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to both sinks")
	assert.Contains(t, string(content), `"service":"myservice"`)
}

func TestDefaultIsInfoLevelTextLogger(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestExpandPathExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs", "gatewayd"), expandPath("~/logs/gatewayd"))
}

func TestExpandPathLeavesAbsolutePathUnchanged(t *testing.T) {
	assert.Equal(t, "/var/log/gatewayd", expandPath("/var/log/gatewayd"))
}

// recordingHandler is a minimal slog.Handler fake for exercising
// multiHandler's fan-out behavior without depending on a real sink.
type recordingHandler struct {
	failHandle bool
	handled    int
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool { return true }

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.handled++
	if h.failHandle {
		return errors.New("sink unavailable")
	}
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(name string) slog.Handler      { return h }

func TestMultiHandlerFansOutToAllHandlers(t *testing.T) {
	a := &recordingHandler{}
	b := &recordingHandler{}
	mh := &multiHandler{handlers: []slog.Handler{a, b}}

	err := mh.Handle(context.Background(), slog.Record{})
	require.NoError(t, err)
	assert.Equal(t, 1, a.handled)
	assert.Equal(t, 1, b.handled)
}

func TestMultiHandlerStopsOnFirstError(t *testing.T) {
	failing := &recordingHandler{failHandle: true}
	trailing := &recordingHandler{}
	mh := &multiHandler{handlers: []slog.Handler{failing, trailing}}

	err := mh.Handle(context.Background(), slog.Record{})
	assert.Error(t, err)
	assert.Equal(t, 1, failing.handled)
	assert.Equal(t, 0, trailing.handled, "handlers after the failing one should not run")
}

func TestMultiHandlerEnabledIfAnyHandlerEnabled(t *testing.T) {
	mh := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}
	assert.True(t, mh.Enabled(context.Background(), slog.LevelDebug))
}
