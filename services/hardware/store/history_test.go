package store

import (
	"testing"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResult(tokPerSec float64, ranAt time.Time) hardware.BenchmarkResult {
	return hardware.BenchmarkResult{TokensPerSec: tokPerSec, Prompt: "hi", RanAt: ranAt}
}

func TestHistoryAppendThenRecentRoundTrips(t *testing.T) {
	h, err := OpenHistory("")
	require.NoError(t, err)
	defer h.Close()

	base := time.Now().UTC()
	require.NoError(t, h.Append(newResult(10, base)))
	require.NoError(t, h.Append(newResult(20, base.Add(time.Second))))
	require.NoError(t, h.Append(newResult(30, base.Add(2*time.Second))))

	results, err := h.Recent(2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 20.0, results[0].TokensPerSec)
	assert.Equal(t, 30.0, results[1].TokensPerSec)
}

func TestHistoryRecentOnEmptyStoreReturnsNil(t *testing.T) {
	h, err := OpenHistory("")
	require.NoError(t, err)
	defer h.Close()

	results, err := h.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHistoryEvictsOldestPastBound(t *testing.T) {
	h, err := OpenHistory("")
	require.NoError(t, err)
	defer h.Close()
	h.maxLen = 2

	base := time.Now().UTC()
	require.NoError(t, h.Append(newResult(1, base)))
	require.NoError(t, h.Append(newResult(2, base.Add(time.Second))))
	require.NoError(t, h.Append(newResult(3, base.Add(2*time.Second))))

	results, err := h.Recent(10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2.0, results[0].TokensPerSec)
	assert.Equal(t, 3.0, results[1].TokensPerSec)
}
