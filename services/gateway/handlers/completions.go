package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/cache"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/apierr"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/wire"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Completions handles POST /v1/completions (spec.md §4.H). Non-streaming
// requests are routed through the cache's do_or_wait; streaming requests
// bypass the cache entirely and stream straight from the backend, per
// spec.md §4.H step 3.
func Completions(srv *gateway.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "/v1/completions"
		start := time.Now()

		var req wire.CompletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			srv.Metrics.RequestsTotal.WithLabelValues(endpoint, "422").Inc()
			return
		}
		if err := req.Validate(); err != nil {
			respondValidationError(c, err)
			srv.Metrics.RequestsTotal.WithLabelValues(endpoint, "422").Inc()
			return
		}

		if req.Stream {
			streamCompletion(c, srv, req)
			srv.Metrics.RequestDurationSecs.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			return
		}

		result, err := nonStreamingCompletion(c.Request.Context(), srv, req)
		if err != nil {
			respondBackendError(c, err)
			srv.Metrics.ErrorsTotal.WithLabelValues(endpoint, string(apierr.KindOf(err))).Inc()
			srv.Metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
			return
		}

		id := "cmpl-" + uuid.NewString()
		c.JSON(http.StatusOK, wire.NewCompletionResponse(id, time.Now().Unix(), result))
		srv.Metrics.RequestsTotal.WithLabelValues(endpoint, "200").Inc()
		srv.Metrics.RequestDurationSecs.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		srv.Metrics.TokensTotal.WithLabelValues("prompt").Add(float64(result.Usage.PromptTokens))
		srv.Metrics.TokensTotal.WithLabelValues("completion").Add(float64(result.Usage.CompletionTokens))
	}
}

func nonStreamingCompletion(ctx context.Context, srv *gateway.Server, req wire.CompletionRequest) (backend.GenerationResult, error) {
	b := srv.Backend()
	fp := cache.Compute(cache.FingerprintRequest{
		ModelID: b.ModelID(),
		Prompt:  req.Prompt,
		Params:  req.Params(),
	})

	if entry, ok := srv.Cache.Get(fp, time.Now()); ok {
		srv.Metrics.CacheHitsTotal.Inc()
		return entry.Body.(backend.GenerationResult), nil
	}
	srv.Metrics.CacheMissesTotal.Inc()

	body, err := srv.Cache.DoOrWait(ctx, fp, func(ctx context.Context) (any, error) {
		return b.Generate(ctx, req.Prompt, req.Params())
	})
	if err != nil {
		return backend.GenerationResult{}, err
	}
	return body.(backend.GenerationResult), nil
}

func streamCompletion(c *gin.Context, srv *gateway.Server, req wire.CompletionRequest) {
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, wire.NewErrorEnvelope(string(apierr.KindInternal), err.Error()))
		return
	}

	srv.AddConn()
	srv.Metrics.ActiveConnections.Inc()
	defer srv.RemoveConn()
	defer srv.Metrics.ActiveConnections.Dec()

	id := "cmpl-" + uuid.NewString()
	created := time.Now().Unix()
	ctx := backend.WithRequestID(c.Request.Context(), id)
	stop := srv.WatchCancellation(ctx, id)
	defer stop()

	streamErr := srv.Backend().GenerateStream(ctx, req.Prompt, req.Params(), func(chunk backend.GenerationChunk) error {
		return writer.WriteData(wire.NewCompletionStreamChunk(id, created, chunk))
	})
	if streamErr != nil {
		writer.WriteData(wire.NewErrorEnvelope(string(apierr.KindOf(streamErr)), streamErr.Error()))
		srv.Metrics.ErrorsTotal.WithLabelValues("/v1/completions", string(apierr.KindOf(streamErr))).Inc()
	}
	writer.WriteDone()
}

func respondValidationError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, wire.NewErrorEnvelope(string(apierr.KindRequestInvalid), err.Error()))
}

func respondBackendError(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	c.AbortWithStatusJSON(apierr.HTTPStatus(kind), wire.NewErrorEnvelope(string(kind), err.Error()))
}
