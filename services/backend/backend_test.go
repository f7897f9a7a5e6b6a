package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationParamsWithDefaultsFillsUnsetFields(t *testing.T) {
	out := GenerationParams{}.WithDefaults()

	require.NotNil(t, out.MaxTokens)
	require.NotNil(t, out.Temperature)
	require.NotNil(t, out.TopP)
	require.NotNil(t, out.TopK)
	require.NotNil(t, out.RepeatPenalty)

	assert.Equal(t, DefaultMaxTokens, *out.MaxTokens)
	assert.Equal(t, DefaultTemperature, *out.Temperature)
	assert.Equal(t, DefaultTopP, *out.TopP)
	assert.Equal(t, DefaultTopK, *out.TopK)
	assert.Equal(t, DefaultRepeatPenalty, *out.RepeatPenalty)
	assert.NotNil(t, out.Stop)
	assert.Empty(t, out.Stop)
}

func TestGenerationParamsWithDefaultsPreservesExplicitValues(t *testing.T) {
	maxTokens := 64
	temp := 0.1
	in := GenerationParams{MaxTokens: &maxTokens, Temperature: &temp, Stop: []string{"\n\n"}}

	out := in.WithDefaults()

	assert.Same(t, &maxTokens, out.MaxTokens)
	assert.Equal(t, 64, *out.MaxTokens)
	assert.Same(t, &temp, out.Temperature)
	assert.Equal(t, []string{"\n\n"}, out.Stop)

	// Fields left unset on the input are still defaulted.
	require.NotNil(t, out.TopP)
	assert.Equal(t, DefaultTopP, *out.TopP)
}

func TestGenerationParamsWithDefaultsDoesNotMutateReceiver(t *testing.T) {
	in := GenerationParams{}
	_ = in.WithDefaults()
	assert.Nil(t, in.MaxTokens)
	assert.Nil(t, in.Stop)
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestRequestIDFromContextWithoutValue(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}
