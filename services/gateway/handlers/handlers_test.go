package handlers

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/cache"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer builds a *gateway.Server wired to a fresh, isolated
// Prometheus registry (so concurrent test files in this package never
// collide on the default global registry) and the given backend.
func newTestServer(t *testing.T, b *stubBackend) *gateway.Server {
	t.Helper()
	store := config.NewStore(config.Config{})
	c := cache.New(64, time.Minute)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return gateway.NewServer(store, c, b, logger, metrics)
}
