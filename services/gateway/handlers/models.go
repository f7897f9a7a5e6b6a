package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/wire"

	"github.com/gin-gonic/gin"
)

// Models handles GET /v1/models: one entry for the loaded model, with the
// id derived from the configured model path's file basename (spec.md
// §4.H: "id derived from file basename").
func Models(srv *gateway.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := srv.Config.Load()
		id := modelBasename(cfg.ModelPath)
		if id == "" {
			id = srv.Backend().ModelID()
		}
		c.JSON(http.StatusOK, wire.ModelsResponse{
			Object: "list",
			Data: []wire.ModelInfo{{
				ID:      id,
				Object:  "model",
				OwnedBy: "local",
			}},
		})
	}
}

func modelBasename(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Status handles GET /v1/status: process uptime, model id, live
// connection count, and cache statistics (spec.md §4.H).
func Status(srv *gateway.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := srv.Cache.Stats()
		c.JSON(http.StatusOK, wire.StatusResponse{
			UptimeSeconds:   srv.Uptime().Seconds(),
			ModelID:         srv.Backend().ModelID(),
			LiveConnections: int(srv.LiveConns()),
			CacheHits:       stats.Hits,
			CacheMisses:     stats.Misses,
			CacheSize:       stats.Size,
			CacheCapacity:   stats.Capacity,
		})
	}
}
