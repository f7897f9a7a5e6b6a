package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigRedactsSecrets(t *testing.T) {
	srv := newTestServer(t, &stubBackend{modelID: "m"})
	srv.Config.Replace(config.Config{APIKeys: []string{"secret"}, RemoteAPIKey: "also-secret", Host: "127.0.0.1"})

	r := gin.New()
	r.GET("/v1/config", GetConfig(srv))

	req := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var cfg config.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Empty(t, cfg.RemoteAPIKey)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestPostConfigOnlyUpdatesFieldsPresentInBody(t *testing.T) {
	srv := newTestServer(t, &stubBackend{modelID: "m"})
	srv.Config.Replace(config.Config{Host: "127.0.0.1", ModelPath: "/models/old.gguf"})

	r := gin.New()
	r.POST("/v1/config", PostConfig(srv))

	req := httptest.NewRequest(http.MethodPost, "/v1/config", strings.NewReader(`{"cache_capacity": 512}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	current := srv.Config.Load()
	assert.Equal(t, 512, current.CacheCapacity)
	assert.Equal(t, "/models/old.gguf", current.ModelPath, "unset fields must not change")
}

func TestPostConfigFlagsReloadRequiredOnModelPathChange(t *testing.T) {
	srv := newTestServer(t, &stubBackend{modelID: "m"})
	srv.Config.Replace(config.Config{ModelPath: "/models/old.gguf"})

	r := gin.New()
	r.POST("/v1/config", PostConfig(srv))

	req := httptest.NewRequest(http.MethodPost, "/v1/config", strings.NewReader(`{"model_path": "/models/new.gguf"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Config         config.Config `json:"config"`
		ReloadRequired bool          `json:"reload_required"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.ReloadRequired)
	assert.Equal(t, "/models/new.gguf", resp.Config.ModelPath)
}

func TestPostConfigMalformedBodyReturnsValidationError(t *testing.T) {
	srv := newTestServer(t, &stubBackend{modelID: "m"})

	r := gin.New()
	r.POST("/v1/config", PostConfig(srv))

	req := httptest.NewRequest(http.MethodPost, "/v1/config", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
