package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	t.Run("identical vectors have distance ~0", func(t *testing.T) {
		v := []float32{0.3, -1.2, 4.5, 0.001}
		assert.InDelta(t, 0, Cosine(v, v), 1e-6)
	})

	t.Run("scaled vectors have distance ~0", func(t *testing.T) {
		a := []float32{1, 2, 3}
		b := []float32{2, 4, 6}
		assert.InDelta(t, 0, Cosine(a, b), 1e-6)
	})

	t.Run("orthogonal vectors have distance 1", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		assert.InDelta(t, 1, Cosine(a, b), 1e-6)
	})

	t.Run("opposite vectors have distance 2", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{-1, 0}
		assert.InDelta(t, 2, Cosine(a, b), 1e-6)
	})

	t.Run("zero vector yields 1, not a false perfect match", func(t *testing.T) {
		zero := []float32{0, 0, 0}
		v := []float32{1, 2, 3}
		assert.Equal(t, float32(1), Cosine(zero, v))
		assert.Equal(t, float32(1), Cosine(v, zero))
		assert.Equal(t, float32(1), Cosine(zero, zero))
	})

	t.Run("result is clamped to [0, 2]", func(t *testing.T) {
		// Accumulated float error can push the raw value slightly outside.
		a := []float32{1e-20, 1e-20}
		b := []float32{1e-20, 1e-20}
		d := Cosine(a, b)
		assert.GreaterOrEqual(t, d, float32(0))
		assert.LessOrEqual(t, d, float32(2))
	})
}

func TestDot(t *testing.T) {
	assert.Equal(t, float32(32), Dot([]float32{1, 2, 3}, []float32{4, 5, 6}))
	assert.Equal(t, float32(0), Dot(nil, nil))
}

func TestNormalizeL2InPlace(t *testing.T) {
	v := []float32{3, 4}
	assert.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1, Norm(v), 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))
}
