package hnsw

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphWriteToReadFrom(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		g := seededGraph(42, func(o *Options) { o.M = 8 })
		rng := rand.New(rand.NewSource(20))

		vectors := make(map[string][]float32)
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("doc%d_chunk_%d", i/10, i%10)
			vectors[key] = randomVector(rng, 16)
			require.NoError(t, g.Add(key, vectors[key]))
		}

		var buf bytes.Buffer
		written, err := g.WriteTo(&buf)
		require.NoError(t, err)
		assert.Equal(t, int64(buf.Len()), written)

		restored := New()
		read, err := restored.ReadFrom(&buf)
		require.NoError(t, err)
		assert.Equal(t, written, read)

		assert.Equal(t, g.Count(), restored.Count())
		assert.Equal(t, 8, restored.M())
		assert.Equal(t, g.Dimension(), restored.Dimension())
		assert.ElementsMatch(t, g.Keys(), restored.Keys())

		// Searches against the restored graph must behave like the original.
		for _, key := range []string{"doc0_chunk_0", "doc5_chunk_5", "doc9_chunk_9"} {
			results, err := restored.Search(vectors[key], 1, 100)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, key, results[0].Key)
			assert.InDelta(t, 0, results[0].Distance, 1e-4)
		}
	})

	t.Run("removed nodes leave no trace", func(t *testing.T) {
		g := seededGraph(42)
		rng := rand.New(rand.NewSource(21))

		for i := 0; i < 30; i++ {
			require.NoError(t, g.Add(fmt.Sprintf("k%d", i), randomVector(rng, 8)))
		}
		for i := 0; i < 10; i++ {
			require.True(t, g.Remove(fmt.Sprintf("k%d", i)))
		}

		var buf bytes.Buffer
		_, err := g.WriteTo(&buf)
		require.NoError(t, err)

		restored := New()
		_, err = restored.ReadFrom(&buf)
		require.NoError(t, err)

		assert.Equal(t, 20, restored.Count())
		for i := 0; i < 10; i++ {
			assert.False(t, restored.Contains(fmt.Sprintf("k%d", i)))
		}
		for i := 10; i < 30; i++ {
			assert.True(t, restored.Contains(fmt.Sprintf("k%d", i)))
		}
	})

	t.Run("empty graph round trip", func(t *testing.T) {
		g := seededGraph(42)

		var buf bytes.Buffer
		_, err := g.WriteTo(&buf)
		require.NoError(t, err)

		restored := New()
		_, err = restored.ReadFrom(&buf)
		require.NoError(t, err)
		assert.Equal(t, 0, restored.Count())

		// Must be insertable after restore.
		require.NoError(t, restored.Add("a", []float32{1, 2}))
		assert.Equal(t, 1, restored.Count())
	})

	t.Run("id continuity after restore", func(t *testing.T) {
		g := seededGraph(42)
		rng := rand.New(rand.NewSource(22))

		for i := 0; i < 10; i++ {
			require.NoError(t, g.Add(fmt.Sprintf("k%d", i), randomVector(rng, 8)))
		}
		require.True(t, g.Remove("k3"))

		var buf bytes.Buffer
		_, err := g.WriteTo(&buf)
		require.NoError(t, err)

		restored := New()
		_, err = restored.ReadFrom(&buf)
		require.NoError(t, err)

		// New inserts must not collide with ids that were ever handed out.
		require.NoError(t, restored.Add("fresh", randomVector(rng, 8)))
		assert.Equal(t, 10, restored.Count())
		assert.GreaterOrEqual(t, restored.nextID, uint32(11))
	})

	t.Run("truncated stream", func(t *testing.T) {
		g := seededGraph(42)
		rng := rand.New(rand.NewSource(23))
		for i := 0; i < 10; i++ {
			require.NoError(t, g.Add(fmt.Sprintf("k%d", i), randomVector(rng, 8)))
		}

		var buf bytes.Buffer
		_, err := g.WriteTo(&buf)
		require.NoError(t, err)

		truncated := buf.Bytes()[:buf.Len()/2]
		restored := New()
		_, err = restored.ReadFrom(bytes.NewReader(truncated))
		assert.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("garbage input", func(t *testing.T) {
		restored := New()
		_, err := restored.ReadFrom(bytes.NewReader([]byte("not a graph at all")))
		assert.ErrorIs(t, err, ErrCorrupted)
	})
}
