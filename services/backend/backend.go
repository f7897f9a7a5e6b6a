// Package backend defines the uniform contract satisfied by the native
// and remote LLM backend adapters (spec.md §4.D). It mirrors the
// teacher's services/llm.LLMClient interface-first design — a single
// contract, multiple implementations, context-first signatures, safe for
// concurrent use — generalized to the fuller operation set spec.md
// requires (embeddings, token counting, streaming chunks, cancellation,
// shutdown) and to the one-shot backend lifecycle shape from
// other_examples' inference.Backend (Name/Status/Run-until-cancelled).
package backend

import (
	"context"
	"errors"
)

// Message is one turn of a chat conversation, generalizing the teacher's
// datatypes.Message to drop the validation-framework struct tags that
// belong to the orchestrator's HTTP layer, not the backend contract.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FinishReason is the terminal status of a generation (spec.md §3, §GLOSSARY).
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// GenerationParams controls sampling behavior. Pointer fields distinguish
// "unset" from "explicit zero" the way the teacher's GenerationParams
// does, so a canonical default can be applied once at the cache
// fingerprint / backend boundary rather than scattered through callers.
type GenerationParams struct {
	MaxTokens     *int      `json:"max_tokens,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	TopK          *int      `json:"top_k,omitempty"`
	RepeatPenalty *float64  `json:"repeat_penalty,omitempty"`
	Stop          []string  `json:"stop,omitempty"`
	Seed          *int64    `json:"seed,omitempty"`
}

// Canonical default values applied when a GenerationParams field is nil,
// per spec.md §6's /v1/completions defaults table.
const (
	DefaultMaxTokens     = 256
	DefaultTemperature   = 0.7
	DefaultTopP          = 0.95
	DefaultTopK          = 40
	DefaultRepeatPenalty = 1.1
)

// WithDefaults returns a copy of p with every unset field filled from the
// canonical defaults, used by the cache's fingerprint computation so that
// "unspecified" and "explicitly default" requests hash identically
// (spec.md §8 property 6).
func (p GenerationParams) WithDefaults() GenerationParams {
	out := p
	if out.MaxTokens == nil {
		v := DefaultMaxTokens
		out.MaxTokens = &v
	}
	if out.Temperature == nil {
		v := DefaultTemperature
		out.Temperature = &v
	}
	if out.TopP == nil {
		v := DefaultTopP
		out.TopP = &v
	}
	if out.TopK == nil {
		v := DefaultTopK
		out.TopK = &v
	}
	if out.RepeatPenalty == nil {
		v := DefaultRepeatPenalty
		out.RepeatPenalty = &v
	}
	if out.Stop == nil {
		out.Stop = []string{}
	}
	return out
}

// TokenUsage accompanies a GenerationResult and the terminal chunk of a
// stream.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is the non-streaming outcome of generate/chat
// (spec.md §3).
type GenerationResult struct {
	Text         string       `json:"text"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        TokenUsage   `json:"usage"`
	WallClockMs  float64      `json:"wall_clock_ms"`
	ModelID      string       `json:"model_id"`
	// ErrorKind carries the apierr.Kind string when FinishReason is
	// FinishError, preserved in metadata per spec.md §7.
	ErrorKind string `json:"error_kind,omitempty"`
}

// GenerationChunk is one element of a streaming generate/chat call. Every
// stream ends with exactly one chunk bearing a non-empty FinishReason;
// no chunk follows it (spec.md §8 property 4).
type GenerationChunk struct {
	TextDelta    string       `json:"text_delta,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
	ModelID      string       `json:"model_id,omitempty"`
	ErrorKind    string       `json:"error_kind,omitempty"`
}

// ChunkFunc receives one GenerationChunk at a time, in production order.
// Returning a non-nil error aborts the stream and is propagated to the
// stream call's return value, mirroring the teacher's StreamCallback.
type ChunkFunc func(chunk GenerationChunk) error

// ErrNotSupported is returned by Embed when the backend was not loaded
// with embedding support (spec.md §4.D, §4.F).
var ErrNotSupported = errors.New("backend: operation not supported")

// Backend is the uniform contract satisfied by the native and remote
// adapters. Implementations must be safe for concurrent use from
// multiple goroutines; any non-reentrant resource (e.g. a single native
// runtime handle) is serialized internally.
type Backend interface {
	// Generate produces a single completion for prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (GenerationResult, error)

	// Chat produces a single completion for a message history.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (GenerationResult, error)

	// GenerateStream streams a completion for prompt, invoking fn once
	// per chunk. An in-flight call must observe cancellation within a
	// bounded number of tokens (default <= 8); a cancelled stream
	// terminates with FinishCancelled.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams, fn ChunkFunc) error

	// ChatStream is GenerateStream's chat-history counterpart.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, fn ChunkFunc) error

	// Embed returns one embedding vector per input text. Returns
	// ErrNotSupported if the backend was not configured for embeddings.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// CountTokens is a best-effort token count for text; remote backends
	// may approximate.
	CountTokens(ctx context.Context, text string) (uint32, error)

	// MaxContext returns the model's context window size in tokens.
	MaxContext() uint32

	// ModelID returns the backend-reported model identifier.
	ModelID() string

	// Cancel requests cancellation of a specific in-flight request,
	// identified by the requestID passed to the generating call's
	// context (see WithRequestID). A Cancel for an unknown or already
	// finished request is a no-op.
	Cancel(requestID string)

	// Shutdown releases backend resources. Idempotent: calling it more
	// than once, or concurrently with in-flight calls, must not panic.
	Shutdown(ctx context.Context) error
}

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx so the owning Backend can
// correlate a later Cancel(requestID) call with this request's internal
// work (e.g. the native adapter's in-flight token loop).
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id attached by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
