package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(store *config.Store) *gin.Engine {
	r := gin.New()
	r.GET("/protected", AuthMiddleware(store), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAuthMiddlewareAllowsAllWhenNoKeysConfigured(t *testing.T) {
	store := config.NewStore(config.Config{})
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareRejectsMissingHeaderWhenEnabled(t *testing.T) {
	store := config.NewStore(config.Config{APIKeys: []string{"secret-key"}})
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareRejectsWrongKey(t *testing.T) {
	store := config.NewStore(config.Config{APIKeys: []string{"secret-key"}})
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareAcceptsValidKey(t *testing.T) {
	store := config.NewStore(config.Config{APIKeys: []string{"secret-key"}})
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareSchemeMatchIsCaseInsensitive(t *testing.T) {
	store := config.NewStore(config.Config{APIKeys: []string{"secret-key"}})
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "bearer secret-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewarePicksUpConfigReloadWithoutRestart(t *testing.T) {
	store := config.NewStore(config.Config{APIKeys: []string{"old-key"}})
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer old-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	store.Replace(config.Config{APIKeys: []string{"new-key"}})

	req2 := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req2.Header.Set("Authorization", "Bearer old-key")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusUnauthorized, w2.Code, "old key should be rejected after reload")

	req3 := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req3.Header.Set("Authorization", "Bearer new-key")
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req3)
	assert.Equal(t, http.StatusOK, w3.Code)
}

func TestExtractBearerTokenMalformedHeaderReturnsEmpty(t *testing.T) {
	store := config.NewStore(config.Config{APIKeys: []string{"secret-key"}})
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "secret-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
