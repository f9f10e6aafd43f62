package embed_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusd/internal/pipeline/embed"
)

func TestDeterministicEmbedderDimension(t *testing.T) {
	e := embed.NewDeterministicEmbedder(128)
	assert.Equal(t, 128, e.Dimension())
	assert.Equal(t, 768, embed.NewDeterministicEmbedder(0).Dimension())
	assert.Equal(t, 768, embed.NewDeterministicEmbedder(-5).Dimension())
}

func TestDeterministicEmbedderIsIdempotent(t *testing.T) {
	e := embed.NewDeterministicEmbedder(64)
	v1, err := e.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	v2, err := e.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestDeterministicEmbedderNormalizes(t *testing.T) {
	e := embed.NewDeterministicEmbedder(32)
	vecs, err := e.EmbedBatch(context.Background(), []string{"some reasonably long piece of text to embed"})
	require.NoError(t, err)
	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestDeterministicEmbedderDistinguishesDifferentText(t *testing.T) {
	e := embed.NewDeterministicEmbedder(64)
	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestDeterministicEmbedderEmptyStringYieldsZeroVector(t *testing.T) {
	e := embed.NewDeterministicEmbedder(16)
	vecs, err := e.EmbedBatch(context.Background(), []string{""})
	require.NoError(t, err)
	for _, x := range vecs[0] {
		assert.Equal(t, float32(0), x)
	}
}
