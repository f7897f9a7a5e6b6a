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

// ChatCompletions handles POST /v1/chat/completions, the message-history
// counterpart of Completions (spec.md §4.H).
func ChatCompletions(srv *gateway.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "/v1/chat/completions"
		start := time.Now()

		var req wire.ChatCompletionRequest
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
			streamChatCompletion(c, srv, req)
			srv.Metrics.RequestDurationSecs.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			return
		}

		result, err := nonStreamingChatCompletion(c.Request.Context(), srv, req)
		if err != nil {
			respondBackendError(c, err)
			srv.Metrics.ErrorsTotal.WithLabelValues(endpoint, string(apierr.KindOf(err))).Inc()
			srv.Metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
			return
		}

		id := "chatcmpl-" + uuid.NewString()
		c.JSON(http.StatusOK, wire.NewChatCompletionResponse(id, time.Now().Unix(), result))
		srv.Metrics.RequestsTotal.WithLabelValues(endpoint, "200").Inc()
		srv.Metrics.RequestDurationSecs.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		srv.Metrics.TokensTotal.WithLabelValues("prompt").Add(float64(result.Usage.PromptTokens))
		srv.Metrics.TokensTotal.WithLabelValues("completion").Add(float64(result.Usage.CompletionTokens))
	}
}

func nonStreamingChatCompletion(ctx context.Context, srv *gateway.Server, req wire.ChatCompletionRequest) (backend.GenerationResult, error) {
	b := srv.Backend()
	messages := req.BackendMessages()
	fp := cache.Compute(cache.FingerprintRequest{
		ModelID:  b.ModelID(),
		Messages: messages,
		Params:   req.Params(),
	})

	if entry, ok := srv.Cache.Get(fp, time.Now()); ok {
		srv.Metrics.CacheHitsTotal.Inc()
		return entry.Body.(backend.GenerationResult), nil
	}
	srv.Metrics.CacheMissesTotal.Inc()

	body, err := srv.Cache.DoOrWait(ctx, fp, func(ctx context.Context) (any, error) {
		return b.Chat(ctx, messages, req.Params())
	})
	if err != nil {
		return backend.GenerationResult{}, err
	}
	return body.(backend.GenerationResult), nil
}

func streamChatCompletion(c *gin.Context, srv *gateway.Server, req wire.ChatCompletionRequest) {
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

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	ctx := backend.WithRequestID(c.Request.Context(), id)
	stop := srv.WatchCancellation(ctx, id)
	defer stop()

	streamErr := srv.Backend().ChatStream(ctx, req.BackendMessages(), req.Params(), func(chunk backend.GenerationChunk) error {
		return writer.WriteData(wire.NewChatCompletionStreamChunk(id, created, chunk))
	})
	if streamErr != nil {
		writer.WriteData(wire.NewErrorEnvelope(string(apierr.KindOf(streamErr)), streamErr.Error()))
		srv.Metrics.ErrorsTotal.WithLabelValues("/v1/chat/completions", string(apierr.KindOf(streamErr))).Inc()
	}
	writer.WriteDone()
}
