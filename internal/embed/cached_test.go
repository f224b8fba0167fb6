package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts provider calls.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls int32
	batchCalls int32
	batchTexts int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.embedCalls, 1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.batchCalls, 1)
	atomic.AddInt32(&c.batchTexts, int32(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedHitSkipsProvider(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)

	first, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.embedCalls))
}

func TestCachedEmbedBatchPartialMiss(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), "cached one")
	require.NoError(t, err)

	results, err := c.EmbedBatch(context.Background(), []string{"cached one", "new one", "another new"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Only the two misses reach the provider.
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.batchTexts))

	for i, r := range results {
		assert.NotNil(t, r, "result %d", i)
	}
}

func TestCachedEmbedBatchAllCached(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 10)

	texts := []string{"alpha", "beta"}
	_, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	before := atomic.LoadInt32(&c.inner.(*countingEmbedder).batchCalls)
	_, err = c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, before, atomic.LoadInt32(&inner.batchCalls))
}

func TestCachedEmbedPassthrough(t *testing.T) {
	inner := NewStaticEmbedder()
	c := NewCachedEmbedder(inner, 0)

	assert.Equal(t, StaticDimensions, c.Dimensions())
	assert.Equal(t, "static", c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.NoError(t, c.Close())
}
