package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedder_PrepareAndEmbed(t *testing.T) {
	e := NewEmbedder()
	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err, "embedding before Prepare must fail")

	require.NoError(t, e.Prepare([]string{
		"Vector stores hold embeddings.",
		"The ledger stores test results.",
	}))
	assert.Equal(t, "tfidf", e.Name())
	assert.Equal(t, 7, e.Dimension())

	vec, err := e.Embed(context.Background(), "embeddings in vector stores")
	require.NoError(t, err)
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	zero, err := e.Embed(context.Background(), "unrelated words")
	require.NoError(t, err)
	for _, v := range zero {
		assert.Equal(t, 0.0, v)
	}
}

func TestEmbedder_PrepareErrors(t *testing.T) {
	assert.Error(t, NewEmbedder().Prepare(nil))
	assert.Error(t, NewEmbedder().Prepare([]string{"the and of"}))
}
