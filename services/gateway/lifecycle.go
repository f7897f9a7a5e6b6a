package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend/native"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend/remote"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/cache"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/apierr"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/observability"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware/detect"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware/optimize"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware/store"

	"github.com/gin-gonic/gin"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lifecycle owns the gateway's start/stop sequence (spec.md §4.I),
// generalizing the teacher's orchestrator.service construct-then-Run-
// then-cleanup shape to this spec's preload-before-bind and
// bounded-grace-period-drain requirements.
type Lifecycle struct {
	Server *Server

	httpServer    *http.Server
	hardwareStore *store.Store
	optimizer     *optimize.Optimizer
	benchHistory  *store.History
	traceCleanup  func(context.Context)
}

// Start implements spec.md §4.I's start sequence: load config (already
// done by the caller) -> refresh the hardware profile unless
// SkipOptimization is set -> construct backend (the native backend's
// context size comes from optimize.ComputeRuntime over the stored or
// freshly probed profile) -> load model (must succeed before the HTTP
// port is bound) -> install handlers -> bind listener. Start blocks
// until Stop closes the listener; cancelling ctx alone does not make it
// return. Callers typically run it in its own goroutine.
func (l *Lifecycle) Start(ctx context.Context, cfgStore *config.Store, logger *slog.Logger) error {
	cfg := cfgStore.Load()

	l.hardwareStore = store.New(cfg.HardwareProfilePath)
	detector := detect.New()
	l.optimizer = optimize.New(l.hardwareStore, detector)

	historyDir := filepath.Join(filepath.Dir(cfg.HardwareProfilePath), "bench-history")
	if history, err := store.OpenHistory(historyDir); err != nil {
		logger.Warn("benchmark history store unavailable, results will not persist across restarts", "error", err)
	} else {
		l.benchHistory = history
		l.optimizer.WithHistory(history)
	}

	if !cfg.SkipOptimization {
		needsUpdate := cfg.ForceOptimization
		if !needsUpdate {
			existing, err := l.hardwareStore.Load()
			needsUpdate = err != nil || l.optimizer.IsProfileStale(ctx, existing, time.Now())
		}
		if needsUpdate {
			if _, err := l.optimizer.UpdateProfile(ctx); err != nil {
				logger.Warn("hardware profile update failed, continuing with defaults", "error", err)
			}
		}
	}

	b, err := buildBackend(ctx, cfg, cfgStore.RemoteAPIKey(), l.hardwareStore, detector, logger)
	if err != nil {
		return apierr.Wrap(apierr.ErrModelUnavailable, err)
	}

	if _, err := b.CountTokens(ctx, "ping"); err != nil {
		return apierr.Wrap(apierr.ErrModelUnavailable, err, "model_path", cfg.ModelPath)
	}

	c := cache.New(cfg.CacheCapacity, cfg.CacheTTL)
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	l.Server = NewServer(cfgStore, c, b, logger, metrics)

	cleanup, err := observability.InitTracer(ctx, cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without spans", "error", err)
		cleanup = func(context.Context) {}
	}
	l.traceCleanup = cleanup

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("gateway"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	installRoutes(router, l.Server)

	l.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}

	logger.Info("gateway listening", "addr", l.httpServer.Addr, "backend", cfg.BackendKind)
	if err := l.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	return nil
}

// installRoutes is a indirection point so gateway doesn't import
// routes/handlers directly (avoiding an import cycle: handlers imports
// gateway for *Server). cmd/gatewayd wires the real routes.SetupRoutes
// via SetRouteInstaller before calling Start.
var installRoutes = func(router *gin.Engine, srv *Server) {}

// SetRouteInstaller registers the function that wires handlers onto the
// gin.Engine; cmd/gatewayd calls this once at startup with
// routes.SetupRoutes before invoking Lifecycle.Start.
func SetRouteInstaller(f func(router *gin.Engine, srv *Server)) {
	installRoutes = f
}

func buildBackend(ctx context.Context, cfg config.Config, remoteAPIKey string, hwStore *store.Store, detector *detect.Detector, logger *slog.Logger) (backend.Backend, error) {
	switch cfg.BackendKind {
	case config.BackendRemote:
		return remote.New(remote.Config{
			BaseURL:     cfg.RemoteBaseURL,
			APIKey:      remoteAPIKey,
			ModelID:     modelIDFromPath(cfg.ModelPath),
			ContextSize: 4096,
		}, logger), nil
	case config.BackendNative, "":
		profile, err := hwStore.Load()
		if err != nil {
			profile = detector.Probe(ctx)
		}
		runtime := optimize.ComputeRuntime(profile, 0)
		return native.New(native.Config{
			BaseURL:          "http://127.0.0.1:8081",
			ModelID:          modelIDFromPath(cfg.ModelPath),
			ContextSize:      uint32(runtime.ContextSize),
			EmbeddingEnabled: false,
			RequestTimeout:   cfg.RequestTimeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("gateway: unknown backend kind %q", cfg.BackendKind)
	}
}

func modelIDFromPath(path string) string {
	if path == "" {
		return "unknown"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Stop runs the stop sequence: stop accepting new connections
// (http.Server.Shutdown, concurrently with signalling cancellation to
// all in-flight backend calls) -> drain up to a bounded grace period ->
// shut down the backend -> run the tracer cleanup -> close the benchmark
// history store. Shutdown does not close hijacked connections, so Stop
// does not close open WebSocket sessions; they stay open until the
// client disconnects, and Drain waits for them only up to drainTimeout.
// Stop writes no hardware or optimization state.
func (l *Lifecycle) Stop(ctx context.Context, drainTimeout time.Duration) error {
	if l.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	// http.Server.Shutdown blocks until active handlers return (or ctx
	// expires) without itself cancelling their request contexts, so it
	// runs concurrently with the explicit CancelAll signal below rather
	// than before it.
	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- l.httpServer.Shutdown(shutdownCtx) }()

	l.Server.CancelAll()

	if err := <-shutdownDone; err != nil {
		l.Server.Logger.Warn("http server shutdown did not complete cleanly", "error", err)
	}

	if !l.Server.Drain(shutdownCtx, drainTimeout) {
		l.Server.Logger.Warn("drain deadline exceeded with connections still open", "live", l.Server.LiveConns())
	}

	if err := l.Server.Backend().Shutdown(shutdownCtx); err != nil {
		l.Server.Logger.Warn("backend shutdown error", "error", err)
	}

	if l.traceCleanup != nil {
		l.traceCleanup(shutdownCtx)
	}

	if l.benchHistory != nil {
		if err := l.benchHistory.Close(); err != nil {
			l.Server.Logger.Warn("benchmark history close error", "error", err)
		}
	}

	return nil
}
