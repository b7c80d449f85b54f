package mock

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	a, err := m.EmbedText(ctx, "alpha")
	require.NoError(t, err)
	b, err := m.EmbedTexts(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	assert.Len(t, a, DefaultDimensions)
	assert.Equal(t, a, b[0])
	assert.NotEqual(t, b[0], b[1])

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)

	assert.Equal(t, 2, m.CallCount())
	assert.Equal(t, 3, m.TextCount())
}

func TestMockEmbedder_Injection(t *testing.T) {
	m := NewMockEmbedder()
	m.Dimensions = 8
	boom := errors.New("boom")
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, boom
	}

	_, err := m.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)

	m.Reset()
	assert.Zero(t, m.CallCount())
	v, err := m.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, v, 8)
}

func TestMockEmbedder_Concurrent(t *testing.T) {
	m := NewMockEmbedder()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.EmbedTexts(context.Background(), []string{"a", "b"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, m.CallCount())
	assert.Equal(t, 32, m.TextCount())
}
