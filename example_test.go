package semdex_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hupe1980/semdex"
)

// Example demonstrates indexing document chunks and querying them.
func Example() {
	path := filepath.Join(os.TempDir(), "example.semdex")
	defer os.Remove(path)

	store, err := semdex.Open(path,
		semdex.WithLogger(semdex.NoopLogger()),
		semdex.WithRandomSeed(42),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	// Keys follow the "{documentId}_chunk_{index}" convention.
	_ = store.Upsert(ctx, "doc1_chunk_0", []float32{1, 0, 0})
	_ = store.Upsert(ctx, "doc1_chunk_1", []float32{0.9, 0.1, 0})
	_ = store.Upsert(ctx, "doc2_chunk_0", []float32{0, 0, 1})

	results, err := store.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range results {
		fmt.Println(r.Key)
	}

	// Drop every chunk of doc1 at once.
	removed, _ := store.DeleteByPrefix(ctx, "doc1_chunk_")
	fmt.Println("removed:", removed)

	// Output:
	// doc1_chunk_0
	// doc1_chunk_1
	// removed: 2
}
