package hnsw

import (
	"fmt"
	"math/rand"
	"testing"
)

func BenchmarkGraphAdd(b *testing.B) {
	g := seededGraph(42)
	rng := rand.New(rand.NewSource(1))

	vectors := make([][]float32, b.N)
	for i := range vectors {
		vectors[i] = randomVector(rng, 128)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = g.Add(fmt.Sprintf("k%d", i), vectors[i])
	}
}

func BenchmarkGraphSearch(b *testing.B) {
	g := seededGraph(42)
	rng := rand.New(rand.NewSource(2))

	for i := 0; i < 10000; i++ {
		if err := g.Add(fmt.Sprintf("k%d", i), randomVector(rng, 128)); err != nil {
			b.Fatal(err)
		}
	}

	queries := make([][]float32, 100)
	for i := range queries {
		queries[i] = randomVector(rng, 128)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = g.Search(queries[i%len(queries)], 10, 100)
	}
}

func BenchmarkGraphSearchParallel(b *testing.B) {
	g := seededGraph(42)
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 10000; i++ {
		if err := g.Add(fmt.Sprintf("k%d", i), randomVector(rng, 128)); err != nil {
			b.Fatal(err)
		}
	}

	queries := make([][]float32, 100)
	for i := range queries {
		queries[i] = randomVector(rng, 128)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = g.Search(queries[i%len(queries)], 10, 100)
			i++
		}
	})
}
