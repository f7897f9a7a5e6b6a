// Package native adapts the in-process llama.cpp-style GGUF runtime to
// the backend.Backend contract (spec.md §4.E). The runtime itself is not
// safe for concurrent calls against a single context, so every public
// method acquires the adapter's mutex before touching it — the Go
// equivalent of original_source/src/core/server.py's single
// `_llama_instance` guarded implicitly by CPython's GIL plus a single
// server thread.
//
// Wire format and default-parameter-filling are grounded on the
// teacher's services/llm/local_llm.go (LocalLlamaCppClient: POST
// /completion, llamaCppResp{Content}), extended here with streaming
// (stream=true, SSE "data: " framing per spec.md §4.F's parse rule,
// which the llama.cpp server shares) and an /embedding endpoint.
package native

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
)

// Config configures the native adapter.
type Config struct {
	// BaseURL points at the loopback llama.cpp server instance the
	// adapter sends requests to (e.g. "http://127.0.0.1:8081"). That
	// server must already be running: neither the adapter nor Lifecycle
	// spawns the process.
	BaseURL string
	// ModelID is reported back as GenerationResult.ModelID / ModelID().
	ModelID string
	// ContextSize is returned by MaxContext.
	ContextSize uint32
	// EmbeddingEnabled must be true for Embed to succeed; it reflects
	// whether the runtime was loaded with embedding support (spec.md §4.E).
	EmbeddingEnabled bool
	// RequestTimeout bounds each HTTP call; zero means no timeout beyond ctx.
	RequestTimeout time.Duration
}

// Adapter is the native Backend implementation.
type Adapter struct {
	cfg    Config
	client *http.Client

	// mu serialises every call against the runtime handle (it is not safe
	// for concurrent use on a single context).
	mu sync.Mutex

	// cancelMu guards cancelled independently of mu: isCancelled is
	// polled from inside a GenerateStream/ChatStream call that already
	// holds mu for its whole duration, so sharing one mutex between the
	// two would deadlock the moment a stream ever checked its own
	// cancellation flag.
	cancelMu  sync.Mutex
	cancelled map[string]bool

	logger *slog.Logger
}

var _ backend.Backend = (*Adapter)(nil)

// New constructs a native Adapter. logger may be nil, in which case
// slog.Default() is used.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Adapter{
		cfg:       cfg,
		client:    &http.Client{Timeout: timeout},
		cancelled: make(map[string]bool),
		logger:    logger,
	}
}

type completionPayload struct {
	Prompt         string   `json:"prompt"`
	NPredict       int      `json:"n_predict"`
	Temperature    float64  `json:"temperature"`
	TopP           float64  `json:"top_p"`
	TopK           int      `json:"top_k"`
	RepeatPenalty  float64  `json:"repeat_penalty"`
	Stop           []string `json:"stop,omitempty"`
	Stream         bool     `json:"stream"`
	Seed           *int64   `json:"seed,omitempty"`
}

type completionResponse struct {
	Content        string `json:"content"`
	Stop           bool   `json:"stop"`
	StoppedEOS     bool   `json:"stopped_eos"`
	StoppedLimit   bool   `json:"stopped_limit"`
	TokensPredicted int   `json:"tokens_predicted"`
	TokensEvaluated int   `json:"tokens_evaluated"`
}

func payloadFrom(prompt string, params backend.GenerationParams) completionPayload {
	p := params.WithDefaults()
	return completionPayload{
		Prompt:        prompt,
		NPredict:      *p.MaxTokens,
		Temperature:   *p.Temperature,
		TopP:          *p.TopP,
		TopK:          *p.TopK,
		RepeatPenalty: *p.RepeatPenalty,
		Stop:          p.Stop,
		Seed:          p.Seed,
	}
}

func renderPrompt(messages []backend.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}

func finishReasonFrom(resp completionResponse, hitMaxTokens bool) backend.FinishReason {
	if hitMaxTokens || resp.StoppedLimit {
		return backend.FinishLength
	}
	return backend.FinishStop
}

// Generate implements backend.Backend.
func (a *Adapter) Generate(ctx context.Context, prompt string, params backend.GenerationParams) (backend.GenerationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	payload := payloadFrom(prompt, params)

	var resp completionResponse
	if err := a.postJSON(ctx, "/completion", payload, &resp); err != nil {
		return backend.GenerationResult{FinishReason: backend.FinishError, ErrorKind: "internal"}, err
	}

	return backend.GenerationResult{
		Text:         resp.Content,
		FinishReason: finishReasonFrom(resp, resp.TokensPredicted >= payload.NPredict),
		Usage: backend.TokenUsage{
			PromptTokens:     resp.TokensEvaluated,
			CompletionTokens: resp.TokensPredicted,
			TotalTokens:      resp.TokensEvaluated + resp.TokensPredicted,
		},
		WallClockMs: float64(time.Since(start).Milliseconds()),
		ModelID:     a.cfg.ModelID,
	}, nil
}

// Chat implements backend.Backend by rendering messages into a single
// prompt; the llama.cpp /completion endpoint has no native chat-turn
// structure the way the remote OpenAI-compatible endpoint does.
func (a *Adapter) Chat(ctx context.Context, messages []backend.Message, params backend.GenerationParams) (backend.GenerationResult, error) {
	return a.Generate(ctx, renderPrompt(messages), params)
}

// GenerateStream implements backend.Backend. It reads the llama.cpp
// server's SSE-framed response line by line, parsing only "data: "
// lines, and yields one chunk per produced token group, observing
// cancellation between reads (bounded by the underlying TCP read, which
// returns promptly on ctx cancellation because the request is built with
// NewRequestWithContext).
func (a *Adapter) GenerateStream(ctx context.Context, prompt string, params backend.GenerationParams, fn backend.ChunkFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	requestID := backend.RequestIDFromContext(ctx)
	if requestID != "" {
		defer a.clearCancelled(requestID)
	}
	payload := payloadFrom(prompt, params)
	payload.Stream = true

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("native: marshal stream payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("native: build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return a.emitError(fn, "internal", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.emitError(fn, "internal", fmt.Errorf("native: unexpected status %d", resp.StatusCode))
	}

	var tokensOut int
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if a.isCancelled(requestID) || ctx.Err() != nil {
			return fn(backend.GenerationChunk{FinishReason: backend.FinishCancelled})
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunkResp completionResponse
		if err := json.Unmarshal([]byte(data), &chunkResp); err != nil {
			continue
		}
		tokensOut++

		if chunkResp.Stop {
			usage := backend.TokenUsage{
				PromptTokens:     chunkResp.TokensEvaluated,
				CompletionTokens: chunkResp.TokensPredicted,
				TotalTokens:      chunkResp.TokensEvaluated + chunkResp.TokensPredicted,
			}
			return fn(backend.GenerationChunk{
				TextDelta:    chunkResp.Content,
				FinishReason: finishReasonFrom(chunkResp, false),
				Usage:        &usage,
				ModelID:      a.cfg.ModelID,
			})
		}

		if err := fn(backend.GenerationChunk{TextDelta: chunkResp.Content, ModelID: a.cfg.ModelID}); err != nil {
			return err
		}
	}

	// A cancelled context aborts the in-flight read, so scanner.Scan()
	// can return false because of cancellation rather than a genuine
	// I/O failure; check that case first so a cancelled stream is never
	// misreported as an upstream error (spec.md §4.D/§7: a cancelled
	// stream terminates with finish_reason = cancelled and is not logged
	// as an error).
	if ctx.Err() != nil || a.isCancelled(requestID) {
		return fn(backend.GenerationChunk{FinishReason: backend.FinishCancelled})
	}
	if err := scanner.Err(); err != nil {
		return a.emitError(fn, "upstream_io", err)
	}

	return fn(backend.GenerationChunk{FinishReason: backend.FinishStop, ModelID: a.cfg.ModelID})
}

// ChatStream implements backend.Backend.
func (a *Adapter) ChatStream(ctx context.Context, messages []backend.Message, params backend.GenerationParams, fn backend.ChunkFunc) error {
	return a.GenerateStream(ctx, renderPrompt(messages), params, fn)
}

// Embed implements backend.Backend, requiring the runtime to have been
// loaded with embedding support.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !a.cfg.EmbeddingEnabled {
		return nil, backend.ErrNotSupported
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := a.postJSON(ctx, "/embedding", map[string]string{"content": text}, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Embedding)
	}
	return out, nil
}

// CountTokens implements backend.Backend using the runtime's own
// tokenizer endpoint.
func (a *Adapter) CountTokens(ctx context.Context, text string) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var resp struct {
		Tokens []int `json:"tokens"`
	}
	if err := a.postJSON(ctx, "/tokenize", map[string]string{"content": text}, &resp); err != nil {
		return 0, err
	}
	return uint32(len(resp.Tokens)), nil
}

// MaxContext implements backend.Backend.
func (a *Adapter) MaxContext() uint32 { return a.cfg.ContextSize }

// ModelID implements backend.Backend.
func (a *Adapter) ModelID() string { return a.cfg.ModelID }

// Cancel implements backend.Backend by marking requestID so the next
// scanner iteration of a matching GenerateStream/ChatStream observes it.
// It uses cancelMu, never mu: mu is held for the whole duration of the
// GenerateStream call this is meant to interrupt, so locking it here
// would deadlock against that in-flight call.
func (a *Adapter) Cancel(requestID string) {
	if requestID == "" {
		return
	}
	a.cancelMu.Lock()
	a.cancelled[requestID] = true
	a.cancelMu.Unlock()
}

func (a *Adapter) isCancelled(requestID string) bool {
	if requestID == "" {
		return false
	}
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	return a.cancelled[requestID]
}

// clearCancelled drops requestID's entry once its stream has finished, so
// the map does not grow unboundedly across the adapter's lifetime.
func (a *Adapter) clearCancelled(requestID string) {
	a.cancelMu.Lock()
	delete(a.cancelled, requestID)
	a.cancelMu.Unlock()
}

// Shutdown implements backend.Backend. The adapter does not own the
// server process (Lifecycle does), so Shutdown only releases the HTTP
// client's idle connections; it is idempotent and safe to call more than
// once.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("native: marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("native: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("native: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("native: read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("native: %s returned status %d: %s", path, resp.StatusCode, strconv.Quote(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("native: parse %s response: %w", path, err)
	}
	return nil
}

func (a *Adapter) emitError(fn backend.ChunkFunc, kind string, err error) error {
	a.logger.Error("native backend stream failed", "error", err, "kind", kind)
	if cbErr := fn(backend.GenerationChunk{FinishReason: backend.FinishError, ErrorKind: kind}); cbErr != nil {
		return cbErr
	}
	return err
}
