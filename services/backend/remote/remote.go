// Package remote adapts an OpenAI-compatible HTTP endpoint to the
// backend.Backend contract (spec.md §4.F). Grounded on
// original_source/src/core/llm_external.py's ExternalLLMProxy
// (configurable timeout, generate/chat/get_embeddings/count_tokens
// methods) and the teacher's services/llm package's HTTP-client idiom
// (persistent *http.Client, context-first requests), extended with the
// exponential-backoff-on-connection-error-only retry policy and SSE
// streaming parse spec.md §4.F requires.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
)

// Config configures the remote adapter.
type Config struct {
	BaseURL     string
	APIKey      string
	ModelID     string
	ContextSize uint32

	// FirstAttemptTimeout bounds the first HTTP attempt; subsequent
	// retries use RetryTimeout. Both default to sane values if zero.
	FirstAttemptTimeout time.Duration
	RetryTimeout        time.Duration

	// MaxAttempts bounds retries for connection/timeout errors only;
	// HTTP 4xx/5xx responses are never retried (spec.md §4.F).
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles each subsequent
	// attempt (exponential backoff).
	BaseBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.FirstAttemptTimeout == 0 {
		c.FirstAttemptTimeout = 30 * time.Second
	}
	if c.RetryTimeout == 0 {
		c.RetryTimeout = 60 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
	return c
}

// Adapter is the remote Backend implementation. It is safe for
// concurrent use up to the underlying *http.Client's connection pool
// size; no internal serialization is needed the way the native adapter
// requires.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	cancelMu  sync.Mutex
	cancelled map[string]context.CancelFunc
}

var _ backend.Backend = (*Adapter)(nil)

// New constructs a remote Adapter with a keep-alive connection pool.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Adapter{
		cfg:       cfg,
		client:    &http.Client{Transport: transport},
		logger:    logger,
		cancelled: make(map[string]context.CancelFunc),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens"`
	Temperature   float64       `json:"temperature"`
	TopP          float64       `json:"top_p"`
	Stop          []string      `json:"stop,omitempty"`
	Stream        bool          `json:"stream"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func toRequest(modelID string, messages []backend.Message, params backend.GenerationParams, stream bool) chatRequest {
	p := params.WithDefaults()
	msgs := make([]chatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return chatRequest{
		Model:       modelID,
		Messages:    msgs,
		MaxTokens:   *p.MaxTokens,
		Temperature: *p.Temperature,
		TopP:        *p.TopP,
		Stop:        p.Stop,
		Stream:      stream,
	}
}

func mapFinishReason(s *string) backend.FinishReason {
	if s == nil {
		return backend.FinishStop
	}
	switch *s {
	case "length":
		return backend.FinishLength
	case "stop":
		return backend.FinishStop
	default:
		return backend.FinishStop
	}
}

// Generate implements backend.Backend by wrapping prompt as a single
// user message — the OpenAI-compatible surface has no distinct
// completions-vs-chat model for this adapter's purposes.
func (a *Adapter) Generate(ctx context.Context, prompt string, params backend.GenerationParams) (backend.GenerationResult, error) {
	return a.Chat(ctx, []backend.Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements backend.Backend with bounded exponential-backoff retry
// on connection/timeout errors only; HTTP 4xx/5xx responses are surfaced
// immediately without retry (spec.md §4.F).
func (a *Adapter) Chat(ctx context.Context, messages []backend.Message, params backend.GenerationParams) (backend.GenerationResult, error) {
	start := time.Now()
	req := toRequest(a.cfg.ModelID, messages, params, false)

	var resp chatCompletionResponse
	attempts, err := a.doWithRetry(ctx, "/v1/chat/completions", req, &resp)
	if err != nil {
		return backend.GenerationResult{
			FinishReason: backend.FinishError,
			ErrorKind:    classifyError(err),
		}, fmt.Errorf("remote: chat after %d attempt(s): %w", attempts, err)
	}

	var text string
	var finish backend.FinishReason = backend.FinishStop
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		finish = mapFinishReason(resp.Choices[0].FinishReason)
	}

	return backend.GenerationResult{
		Text:         text,
		FinishReason: finish,
		Usage: backend.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		WallClockMs: float64(time.Since(start).Milliseconds()),
		ModelID:     firstNonEmpty(resp.Model, a.cfg.ModelID),
	}, nil
}

// GenerateStream implements backend.Backend.
func (a *Adapter) GenerateStream(ctx context.Context, prompt string, params backend.GenerationParams, fn backend.ChunkFunc) error {
	return a.ChatStream(ctx, []backend.Message{{Role: "user", Content: prompt}}, params, fn)
}

// ChatStream implements backend.Backend's SSE streaming contract: parse
// only lines prefixed "data: ", terminate on "data: [DONE]". Retries are
// not attempted once the stream has begun (only the initial connection
// is retried), matching spec.md §4.F's framing that retry applies to
// connection/timeout errors, not to a stream already producing content.
func (a *Adapter) ChatStream(ctx context.Context, messages []backend.Message, params backend.GenerationParams, fn backend.ChunkFunc) error {
	body, err := json.Marshal(toRequest(a.cfg.ModelID, messages, params, true))
	if err != nil {
		return fmt.Errorf("remote: marshal stream request: %w", err)
	}

	requestID := backend.RequestIDFromContext(ctx)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if requestID != "" {
		a.cancelMu.Lock()
		a.cancelled[requestID] = cancel
		a.cancelMu.Unlock()
		defer func() {
			a.cancelMu.Lock()
			delete(a.cancelled, requestID)
			a.cancelMu.Unlock()
		}()
	}

	resp, err := a.connectWithRetry(streamCtx, "/v1/chat/completions", body)
	if err != nil {
		return a.emitError(fn, classifyError(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("remote: stream returned status %d: %s", resp.StatusCode, string(raw))
		return a.emitError(fn, "upstream_http", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if streamCtx.Err() != nil {
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

		var chunk chatCompletionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil {
			usage := backend.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
			return fn(backend.GenerationChunk{
				TextDelta:    choice.Delta.Content,
				FinishReason: mapFinishReason(choice.FinishReason),
				Usage:        &usage,
				ModelID:      firstNonEmpty(chunk.Model, a.cfg.ModelID),
			})
		}
		if err := fn(backend.GenerationChunk{TextDelta: choice.Delta.Content, ModelID: firstNonEmpty(chunk.Model, a.cfg.ModelID)}); err != nil {
			return err
		}
	}

	// A cancelled context aborts the in-flight read, so scanner.Scan()
	// can return false because of cancellation rather than a genuine
	// I/O failure; check that case first so a cancelled stream is never
	// misreported as an upstream error (spec.md §4.D/§7: a cancelled
	// stream terminates with finish_reason = cancelled and is not logged
	// as an error).
	if streamCtx.Err() != nil {
		return fn(backend.GenerationChunk{FinishReason: backend.FinishCancelled})
	}
	if err := scanner.Err(); err != nil {
		return a.emitError(fn, "upstream_io", err)
	}

	return fn(backend.GenerationChunk{FinishReason: backend.FinishStop})
}

// Embed implements backend.Backend via the remote /v1/embeddings endpoint.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: a.cfg.ModelID, Input: texts}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if _, err := a.doWithRetry(ctx, "/v1/embeddings", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("remote: embed: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// CountTokens approximates as ceil(len(text)/4), per spec.md §4.F — the
// remote endpoint has no tokenizer introspection API.
func (a *Adapter) CountTokens(ctx context.Context, text string) (uint32, error) {
	return uint32(math.Ceil(float64(len(text)) / 4.0)), nil
}

// MaxContext implements backend.Backend.
func (a *Adapter) MaxContext() uint32 { return a.cfg.ContextSize }

// ModelID implements backend.Backend.
func (a *Adapter) ModelID() string { return a.cfg.ModelID }

// Cancel implements backend.Backend by invoking the context.CancelFunc
// registered for requestID, if any streaming call is still in flight.
func (a *Adapter) Cancel(requestID string) {
	if requestID == "" {
		return
	}
	a.cancelMu.Lock()
	cancel, ok := a.cancelled[requestID]
	a.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown implements backend.Backend; idempotent.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.client.CloseIdleConnections()
	return nil
}

// doWithRetry issues path with body retried per the adapter's backoff
// policy, decoding a JSON response into out. It returns the number of
// attempts made.
func (a *Adapter) doWithRetry(ctx context.Context, path string, reqBody any, out any) (int, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		resp, err := a.attempt(ctx, path, body, attempt)
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return attempt, err
			}
			a.sleepBackoff(ctx, attempt)
			continue
		}

		defer resp.Body.Close()
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			lastErr = readErr
			a.sleepBackoff(ctx, attempt)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return attempt, &httpStatusError{status: resp.StatusCode, body: string(raw)}
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return attempt, fmt.Errorf("parse response: %w", err)
		}
		return attempt, nil
	}

	return a.cfg.MaxAttempts, lastErr
}

func (a *Adapter) attempt(ctx context.Context, path string, body []byte, attemptNum int) (*http.Response, error) {
	timeout := a.cfg.FirstAttemptTimeout
	if attemptNum > 1 {
		timeout = a.cfg.RetryTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	return a.client.Do(req)
}

// connectWithRetry is attempt's streaming counterpart: it applies the
// same connection-retry policy but returns the live response for the
// caller to scan, since streaming bodies cannot be buffered up front.
func (a *Adapter) connectWithRetry(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		resp, err := a.attempt(ctx, path, body, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		a.sleepBackoff(ctx, attempt)
	}
	return nil, lastErr
}

func (a *Adapter) sleepBackoff(ctx context.Context, attempt int) {
	delay := a.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// httpStatusError represents a non-2xx response, which is never retried.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("remote: http status %d: %s", e.status, e.body)
}

func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return false
	}
	// Connection refused, DNS failure, timeout: all surfaced as generic
	// net/url errors by net/http, none of which is *httpStatusError.
	return true
}

func classifyError(err error) string {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return "upstream_http"
	}
	return "upstream_io"
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (a *Adapter) emitError(fn backend.ChunkFunc, kind string, err error) error {
	a.logger.Error("remote backend stream failed", "error", err, "kind", kind)
	if cbErr := fn(backend.GenerationChunk{FinishReason: backend.FinishError, ErrorKind: kind}); cbErr != nil {
		return cbErr
	}
	return err
}
