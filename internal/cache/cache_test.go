package cache

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3B132016/tws/internal/model"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	params := model.DefaultDetectionParams()
	in := &model.OptimizationResult{SecurityID: "2330", BestParams: &params, BestScore: 0.6, Scorer: "win_rate"}
	require.NoError(t, c.Set(ctx, "k", in))

	params.Window = 99
	out, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 10, out.BestParams.Window)
	assert.Equal(t, 0.6, out.BestScore)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Millisecond)
	require.NoError(t, c.Set(ctx, "k", &model.OptimizationResult{SecurityID: "2330"}))
	time.Sleep(5 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	require.NoError(t, c.Set(context.Background(), "k", &model.OptimizationResult{}))
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestKey(t *testing.T) {
	g := model.DefaultGrid()
	a := Key("2330", "f1", g, 0, "win_rate:h[1]")
	assert.NotEqual(t, a, Key("2330", "f2", g, 0, "win_rate:h[1]"))
	assert.NotEqual(t, a, Key("2330", "f1", g, 0, "model:http://trainer"))
	assert.NotEqual(t, a, Key("2330", "f1", g, 0, "win_rate:h[5]"))
	assert.NotEqual(t, a, Key("2330", "f1", g, 2, "win_rate:h[1]"))
	assert.Equal(t, a, Key("2330", "f1", model.DefaultGrid(), 0, "win_rate:h[1]"))
}

func TestEncodeResult_InfiniteScore(t *testing.T) {
	in := &model.OptimizationResult{SecurityID: "2330", BestScore: math.Inf(1), ScoreIsLowerBetter: true}
	data, err := encodeResult(in)
	require.NoError(t, err)

	out, err := decodeResult(data)
	require.NoError(t, err)
	assert.True(t, math.IsInf(out.BestScore, 1))
	assert.False(t, out.HasBest())

	params := model.DefaultDetectionParams()
	in = &model.OptimizationResult{SecurityID: "2330", BestParams: &params, BestScore: 0.25}
	data, err = encodeResult(in)
	require.NoError(t, err)
	out, err = decodeResult(data)
	require.NoError(t, err)
	assert.Equal(t, 0.25, out.BestScore)
	assert.Equal(t, params, *out.BestParams)
}
