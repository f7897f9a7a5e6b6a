package cache

import (
	"testing"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"

	"github.com/stretchr/testify/assert"
)

func TestComputeIsDeterministic(t *testing.T) {
	req := FingerprintRequest{ModelID: "llama-3-8b", Prompt: "hello there"}
	a := Compute(req)
	b := Compute(req)
	assert.Equal(t, a, b)
}

func TestComputeUnsetVsExplicitDefaultCollide(t *testing.T) {
	unset := FingerprintRequest{ModelID: "m", Prompt: "p"}

	maxTokens := backend.DefaultMaxTokens
	temp := backend.DefaultTemperature
	topP := backend.DefaultTopP
	topK := backend.DefaultTopK
	repeatPenalty := backend.DefaultRepeatPenalty
	explicit := FingerprintRequest{
		ModelID: "m",
		Prompt:  "p",
		Params: backend.GenerationParams{
			MaxTokens:     &maxTokens,
			Temperature:   &temp,
			TopP:          &topP,
			TopK:          &topK,
			RepeatPenalty: &repeatPenalty,
		},
	}

	assert.Equal(t, Compute(unset), Compute(explicit))
}

func TestComputeStopSequenceOrderDoesNotMatter(t *testing.T) {
	a := Compute(FingerprintRequest{ModelID: "m", Prompt: "p", Params: backend.GenerationParams{Stop: []string{"a", "b"}}})
	b := Compute(FingerprintRequest{ModelID: "m", Prompt: "p", Params: backend.GenerationParams{Stop: []string{"b", "a"}}})
	assert.Equal(t, a, b)
}

func TestComputeDifferentPromptsDiverge(t *testing.T) {
	a := Compute(FingerprintRequest{ModelID: "m", Prompt: "one"})
	b := Compute(FingerprintRequest{ModelID: "m", Prompt: "two"})
	assert.NotEqual(t, a, b)
}

func TestComputeDifferentModelsDiverge(t *testing.T) {
	a := Compute(FingerprintRequest{ModelID: "model-a", Prompt: "p"})
	b := Compute(FingerprintRequest{ModelID: "model-b", Prompt: "p"})
	assert.NotEqual(t, a, b)
}

func TestComputeMessagesVsPromptDiverge(t *testing.T) {
	byPrompt := Compute(FingerprintRequest{ModelID: "m", Prompt: "hello"})
	byMessages := Compute(FingerprintRequest{ModelID: "m", Messages: []backend.Message{{Role: "user", Content: "hello"}}})
	assert.NotEqual(t, byPrompt, byMessages)
}

func TestComputeMessageOrderMatters(t *testing.T) {
	a := Compute(FingerprintRequest{ModelID: "m", Messages: []backend.Message{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hi"},
	}})
	b := Compute(FingerprintRequest{ModelID: "m", Messages: []backend.Message{
		{Role: "user", Content: "hi"},
		{Role: "system", Content: "be nice"},
	}})
	assert.NotEqual(t, a, b)
}

func TestComputeWhitespaceCanonicalization(t *testing.T) {
	trailing := FingerprintRequest{ModelID: "m", Prompt: "hello \t\n", CanonicalizeWhitespace: true}
	clean := FingerprintRequest{ModelID: "m", Prompt: "hello", CanonicalizeWhitespace: true}
	assert.Equal(t, Compute(trailing), Compute(clean))

	// Without canonicalisation the trailing whitespace is significant.
	withoutA := FingerprintRequest{ModelID: "m", Prompt: "hello \t\n"}
	withoutB := FingerprintRequest{ModelID: "m", Prompt: "hello"}
	assert.NotEqual(t, Compute(withoutA), Compute(withoutB))
}

func TestComputeDifferentMaxTokensDiverge(t *testing.T) {
	a := 16
	b := 32
	x := Compute(FingerprintRequest{ModelID: "m", Prompt: "p", Params: backend.GenerationParams{MaxTokens: &a}})
	y := Compute(FingerprintRequest{ModelID: "m", Prompt: "p", Params: backend.GenerationParams{MaxTokens: &b}})
	assert.NotEqual(t, x, y)
}
