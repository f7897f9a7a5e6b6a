package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerWithEmptyEndpointReturnsNoOpCleanup(t *testing.T) {
	cleanup, err := InitTracer(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	assert.NotPanics(t, func() {
		cleanup(context.Background())
	})
}

func TestInitTracerNoOpCleanupIsSafeToCallWithCancelledContext(t *testing.T) {
	cleanup, err := InitTracer(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() {
		cleanup(ctx)
	})
}
