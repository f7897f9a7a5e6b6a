// Package middleware provides Gin middleware for the gateway (spec.md
// §4.H auth). The bearer-token
// extraction and context-storage pattern is grounded directly on the
// teacher's services/orchestrator/middleware/auth.go (AuthMiddleware,
// extractBearerToken, SetAuthInfo/GetAuthInfo), simplified from that
// file's pluggable extensions.AuthProvider/RBAC AuthInfo abstraction to
// a flat API-key allowlist — this spec has no multi-tenant role concept
// (see DESIGN.md Open Question decisions).
package middleware

import (
	"net/http"
	"strings"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"

	"github.com/gin-gonic/gin"
)

const apiKeyContextKey = "gateway_api_key"

// AuthMiddleware enforces spec.md §4.H: a non-empty configured API-key
// list enables auth; requests must present Authorization: Bearer <key>.
// cfg is read fresh from store on every request so a config reload takes
// effect without restarting the server.
func AuthMiddleware(store *config.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := store.Load()
		if !cfg.AuthEnabled() {
			c.Next()
			return
		}

		key := extractBearerToken(c)
		if key == "" || !store.IsValidAPIKey(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "Unauthorized", "type": "unauthorized"},
			})
			return
		}

		c.Set(apiKeyContextKey, key)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>", trimming
// whitespace and matching the scheme case-insensitively per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
