package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/cache"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// nopBackend answers every call trivially; these tests only check routing
// and auth, not generation content.
type nopBackend struct{}

func (nopBackend) Generate(ctx context.Context, prompt string, params backend.GenerationParams) (backend.GenerationResult, error) {
	return backend.GenerationResult{}, nil
}
func (nopBackend) Chat(ctx context.Context, messages []backend.Message, params backend.GenerationParams) (backend.GenerationResult, error) {
	return backend.GenerationResult{}, nil
}
func (nopBackend) GenerateStream(ctx context.Context, prompt string, params backend.GenerationParams, fn backend.ChunkFunc) error {
	return fn(backend.GenerationChunk{FinishReason: backend.FinishStop})
}
func (nopBackend) ChatStream(ctx context.Context, messages []backend.Message, params backend.GenerationParams, fn backend.ChunkFunc) error {
	return fn(backend.GenerationChunk{FinishReason: backend.FinishStop})
}
func (nopBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, backend.ErrNotSupported
}
func (nopBackend) CountTokens(ctx context.Context, text string) (uint32, error) { return 0, nil }
func (nopBackend) MaxContext() uint32                                          { return 4096 }
func (nopBackend) ModelID() string                                             { return "m" }
func (nopBackend) Cancel(requestID string)                                     {}
func (nopBackend) Shutdown(ctx context.Context) error                          { return nil }

func newRouterWithAuth(apiKeys []string) *gin.Engine {
	store := config.NewStore(config.Config{APIKeys: apiKeys})
	c := cache.New(16, time.Minute)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := gateway.NewServer(store, c, nopBackend{}, logger, metrics)

	r := gin.New()
	SetupRoutes(r, srv)
	return r
}

func TestModelsIsReachableWithoutAuth(t *testing.T) {
	r := newRouterWithAuth([]string{"secret"})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusRequiresAuthWhenKeysConfigured(t *testing.T) {
	r := newRouterWithAuth([]string{"secret"})

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestConfigRoutesRequireAuth(t *testing.T) {
	r := newRouterWithAuth([]string{"secret"})

	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCompletionsRoutesRequireAuth(t *testing.T) {
	r := newRouterWithAuth([]string{"secret"})

	req := httptest.NewRequest(http.MethodPost, "/v1/completions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
}

func TestWebSocketRouteRequiresAuthBeforeUpgrade(t *testing.T) {
	r := newRouterWithAuth([]string{"secret"})

	req := httptest.NewRequest(http.MethodGet, "/ws/completions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAllRoutesReachableWithoutAuthWhenNoKeysConfigured(t *testing.T) {
	r := newRouterWithAuth(nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
