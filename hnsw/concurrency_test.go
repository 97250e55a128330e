package hnsw

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises the lock discipline: concurrent readers share the graph while
// writers mutate it. Run with -race.
func TestGraphConcurrentAccess(t *testing.T) {
	g := seededGraph(42)
	rng := rand.New(rand.NewSource(30))

	const dim = 16
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Add(fmt.Sprintf("base%d", i), randomVector(rng, dim)))
	}

	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			wrng := rand.New(rand.NewSource(int64(100 + w)))
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("w%d_%d", w, i)
				assert.NoError(t, g.Add(key, randomVector(wrng, dim)))
				if i%5 == 0 {
					g.Remove(key)
				}
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			rrng := rand.New(rand.NewSource(int64(200 + r)))
			for i := 0; i < 100; i++ {
				results, err := g.Search(randomVector(rrng, dim), 5, 50)
				assert.NoError(t, err)
				for j := 1; j < len(results); j++ {
					assert.LessOrEqual(t, results[j-1].Distance, results[j].Distance)
				}
				g.Count()
				g.Contains(fmt.Sprintf("base%d", i%100))
			}
		}(r)
	}

	wg.Wait()

	// 100 base + per-worker 50 inserts minus 10 removals.
	assert.Equal(t, 100+4*(50-10), g.Count())
}
