package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedderWithDimension(8)
	ctx := context.Background()

	a, err := e.EmbedText(ctx, "hello")
	require.NoError(t, err)
	b, err := e.EmbedText(ctx, "hello")
	require.NoError(t, err)
	c, err := e.EmbedText(ctx, "world")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 8)
	assert.Equal(t, 3, e.CallCount())

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder_Batch(t *testing.T) {
	e := NewMockEmbedder()
	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, Vector("b", DefaultDimension), vecs[1])
	assert.Equal(t, []string{"a", "b"}, e.Texts())

	e.Reset()
	assert.Zero(t, e.CallCount())
}

func TestMockEmbedder_InjectedError(t *testing.T) {
	e := NewMockEmbedder()
	e.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("boom")
	}
	_, err := e.EmbedTexts(context.Background(), []string{"x"})
	assert.EqualError(t, err, "boom")
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider().(*MockProvider)
	answer, err := p.Generator().Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "mock answer", answer)
	assert.Equal(t, "prompt", p.GetMockGenerator().LastPrompt())
	assert.Equal(t, DefaultDimension, p.Embedder().Dimension())

	require.NoError(t, p.Close())
	assert.True(t, p.Closed())
}
