// Package semdex is an embedded semantic index: an HNSW
// approximate-nearest-neighbor graph over cosine distance, wrapped in a
// durable, concurrency-safe store with debounced snapshot persistence.
//
// Keys are free-form strings; the "{documentId}_chunk_{index}" convention
// lets DeleteByPrefix drop all chunks of a document at once.
//
// Basic usage:
//
//	store, err := semdex.Open("index.semdex")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	_ = store.Upsert(ctx, "doc1_chunk_0", embedding)
//
//	results, err := store.Search(ctx, queryEmbedding, 5)
//	for _, r := range results {
//		fmt.Println(r.Key, r.Score)
//	}
package semdex
