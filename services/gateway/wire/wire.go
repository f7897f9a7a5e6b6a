// Package wire defines the OpenAI-compatible request/response envelopes
// spec.md §6 names for /v1/completions, /v1/chat/completions, /v1/models,
// and /v1/status. None of these shapes exist in the teacher (it has no
// OpenAI-wire-compatible surface — see SPEC_FULL.md §4.H), so they are
// authored fresh here in the teacher's json-struct-with-tags idiom, the
// same style services/orchestrator/datatypes uses for its own wire types.
//
// Field validation follows services/orchestrator/datatypes/chat.go: a
// package-level *validator.Validate checks `validate:"..."` struct tags
// instead of hand-rolled if-chains.
package wire

import (
	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"

	"github.com/go-playground/validator/v10"
)

// wireValidate is the validator instance for request envelopes.
var wireValidate = validator.New()

// CompletionRequest is the body of POST /v1/completions (spec.md §6 table).
type CompletionRequest struct {
	Prompt        string   `json:"prompt" binding:"required" validate:"required"`
	MaxTokens     *int     `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=4096"`
	Temperature   *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP          *float64 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopK          *int     `json:"top_k,omitempty" validate:"omitempty,gte=0"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty" validate:"omitempty,gte=0"`
	Stream        bool     `json:"stream,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

// Validate checks the bounds spec.md §6 assigns each field via struct tags.
func (r CompletionRequest) Validate() error {
	return wireValidate.Struct(r)
}

// Params extracts the shared GenerationParams out of the request fields.
func (r CompletionRequest) Params() backend.GenerationParams {
	return backend.GenerationParams{
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		TopK:          r.TopK,
		RepeatPenalty: r.RepeatPenalty,
		Stop:          r.Stop,
	}
}

// ChatMessage is one {role, content} turn (spec.md §6).
type ChatMessage struct {
	Role    string `json:"role" binding:"required" validate:"required"`
	Content string `json:"content" binding:"required" validate:"required"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Messages      []ChatMessage `json:"messages" binding:"required" validate:"required,min=1,dive"`
	MaxTokens     *int          `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=4096"`
	Temperature   *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP          *float64      `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopK          *int          `json:"top_k,omitempty" validate:"omitempty,gte=0"`
	RepeatPenalty *float64      `json:"repeat_penalty,omitempty" validate:"omitempty,gte=0"`
	Stream        bool          `json:"stream,omitempty"`
	Stop          []string      `json:"stop,omitempty"`
}

func (r ChatCompletionRequest) Validate() error {
	return wireValidate.Struct(r)
}

func (r ChatCompletionRequest) Params() backend.GenerationParams {
	return backend.GenerationParams{
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		TopK:          r.TopK,
		RepeatPenalty: r.RepeatPenalty,
		Stop:          r.Stop,
	}
}

func (r ChatCompletionRequest) BackendMessages() []backend.Message {
	out := make([]backend.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = backend.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// Usage is the shared usage block (spec.md §6).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func usageFrom(u backend.TokenUsage) Usage {
	return Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

// CompletionChoice is one element of a text_completion's choices array.
type CompletionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
}

// CompletionResponse is the non-streaming text_completion envelope.
type CompletionResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []CompletionChoice  `json:"choices"`
	Usage   Usage               `json:"usage"`
}

// NewCompletionResponse builds a text_completion envelope from a
// backend.GenerationResult (spec.md §6).
func NewCompletionResponse(id string, created int64, result backend.GenerationResult) CompletionResponse {
	return CompletionResponse{
		ID:      id,
		Object:  "text_completion",
		Created: created,
		Model:   result.ModelID,
		Choices: []CompletionChoice{{
			Text:         result.Text,
			Index:        0,
			FinishReason: string(result.FinishReason),
		}},
		Usage: usageFrom(result.Usage),
	}
}

// ChatChoiceMessage is the {role, content} returned inside a chat.completion choice.
type ChatChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatChoice is one element of a chat.completion's choices array.
type ChatChoice struct {
	Message      ChatChoiceMessage `json:"message"`
	Index        int               `json:"index"`
	FinishReason string            `json:"finish_reason"`
}

// ChatCompletionResponse is the non-streaming chat.completion envelope.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

func NewChatCompletionResponse(id string, created int64, result backend.GenerationResult) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   result.ModelID,
		Choices: []ChatChoice{{
			Message:      ChatChoiceMessage{Role: "assistant", Content: result.Text},
			Index:        0,
			FinishReason: string(result.FinishReason),
		}},
		Usage: usageFrom(result.Usage),
	}
}

// CompletionStreamChoice is one delta element of a streaming chunk.
type CompletionStreamChoice struct {
	Text         string `json:"text,omitempty"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// CompletionStreamChunk is one SSE `data:` payload for /v1/completions
// streaming (spec.md §6: "data: <JSON>\n\n frames").
type CompletionStreamChunk struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []CompletionStreamChoice `json:"choices"`
	Usage   *Usage                   `json:"usage,omitempty"`
}

func NewCompletionStreamChunk(id string, created int64, chunk backend.GenerationChunk) CompletionStreamChunk {
	out := CompletionStreamChunk{
		ID:      id,
		Object:  "text_completion.chunk",
		Created: created,
		Model:   chunk.ModelID,
		Choices: []CompletionStreamChoice{{
			Text:         chunk.TextDelta,
			Index:        0,
			FinishReason: string(chunk.FinishReason),
		}},
	}
	if chunk.Usage != nil {
		u := usageFrom(*chunk.Usage)
		out.Usage = &u
	}
	return out
}

// ChatStreamDelta carries the incremental content of a chat streaming chunk.
type ChatStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatStreamChoice is one delta element of a chat streaming chunk.
type ChatStreamChoice struct {
	Delta        ChatStreamDelta `json:"delta"`
	Index        int             `json:"index"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// ChatCompletionStreamChunk is one SSE `data:` payload for
// /v1/chat/completions streaming.
type ChatCompletionStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

func NewChatCompletionStreamChunk(id string, created int64, chunk backend.GenerationChunk) ChatCompletionStreamChunk {
	out := ChatCompletionStreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   chunk.ModelID,
		Choices: []ChatStreamChoice{{
			Delta:        ChatStreamDelta{Content: chunk.TextDelta},
			Index:        0,
			FinishReason: string(chunk.FinishReason),
		}},
	}
	if chunk.Usage != nil {
		u := usageFrom(*chunk.Usage)
		out.Usage = &u
	}
	return out
}

// ErrorEnvelope is the error body shape used by every failing endpoint
// (spec.md §4.H's "HTTP 422 with error envelope", §6's WS "{error: ...}").
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewErrorEnvelope(kind string, message string) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorDetail{Message: message, Type: kind}}
}

// ModelInfo is the single entry GET /v1/models returns (spec.md §4.H:
// "one entry describing the loaded model").
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the GET /v1/models envelope.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// StatusResponse is the GET /v1/status envelope (spec.md §4.H: "process
// uptime, model id, live connection count, cache statistics").
type StatusResponse struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	ModelID         string  `json:"model_id"`
	LiveConnections int     `json:"live_connections"`
	CacheHits       uint64  `json:"cache_hits"`
	CacheMisses     uint64  `json:"cache_misses"`
	CacheSize       int     `json:"cache_size"`
	CacheCapacity   int     `json:"cache_capacity"`
}
