package handlers

import (
	"context"
	"sync"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
)

// stubBackend is a minimal backend.Backend test double: every method
// delegates to an overridable func field, falling back to an innocuous
// default so tests only need to set the methods they exercise.
type stubBackend struct {
	mu sync.Mutex

	modelID    string
	maxContext uint32

	generateFn       func(ctx context.Context, prompt string, params backend.GenerationParams) (backend.GenerationResult, error)
	chatFn           func(ctx context.Context, messages []backend.Message, params backend.GenerationParams) (backend.GenerationResult, error)
	generateStreamFn func(ctx context.Context, prompt string, params backend.GenerationParams, fn backend.ChunkFunc) error
	chatStreamFn     func(ctx context.Context, messages []backend.Message, params backend.GenerationParams, fn backend.ChunkFunc) error
	embedFn          func(ctx context.Context, texts []string) ([][]float32, error)

	cancelledIDs   []string
	shutdownCalled bool
}

var _ backend.Backend = (*stubBackend)(nil)

func (b *stubBackend) Generate(ctx context.Context, prompt string, params backend.GenerationParams) (backend.GenerationResult, error) {
	if b.generateFn != nil {
		return b.generateFn(ctx, prompt, params)
	}
	return backend.GenerationResult{Text: "stub output", FinishReason: backend.FinishStop, ModelID: b.modelID}, nil
}

func (b *stubBackend) Chat(ctx context.Context, messages []backend.Message, params backend.GenerationParams) (backend.GenerationResult, error) {
	if b.chatFn != nil {
		return b.chatFn(ctx, messages, params)
	}
	return backend.GenerationResult{Text: "stub chat output", FinishReason: backend.FinishStop, ModelID: b.modelID}, nil
}

func (b *stubBackend) GenerateStream(ctx context.Context, prompt string, params backend.GenerationParams, fn backend.ChunkFunc) error {
	if b.generateStreamFn != nil {
		return b.generateStreamFn(ctx, prompt, params, fn)
	}
	if err := fn(backend.GenerationChunk{TextDelta: "chunk"}); err != nil {
		return err
	}
	return fn(backend.GenerationChunk{FinishReason: backend.FinishStop})
}

func (b *stubBackend) ChatStream(ctx context.Context, messages []backend.Message, params backend.GenerationParams, fn backend.ChunkFunc) error {
	if b.chatStreamFn != nil {
		return b.chatStreamFn(ctx, messages, params, fn)
	}
	if err := fn(backend.GenerationChunk{TextDelta: "chunk"}); err != nil {
		return err
	}
	return fn(backend.GenerationChunk{FinishReason: backend.FinishStop})
}

func (b *stubBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if b.embedFn != nil {
		return b.embedFn(ctx, texts)
	}
	return nil, backend.ErrNotSupported
}

func (b *stubBackend) CountTokens(ctx context.Context, text string) (uint32, error) {
	return uint32(len(text)), nil
}

func (b *stubBackend) MaxContext() uint32 { return b.maxContext }

func (b *stubBackend) ModelID() string { return b.modelID }

func (b *stubBackend) Cancel(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelledIDs = append(b.cancelledIDs, requestID)
}

func (b *stubBackend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdownCalled = true
	return nil
}
