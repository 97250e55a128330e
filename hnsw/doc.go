// Package hnsw implements a Hierarchical Navigable Small World (HNSW) graph
// for approximate nearest neighbor search over string-keyed vectors.
//
// The graph is a multi-layer proximity structure: every node lives on layer 0,
// and participates in exponentially fewer upper layers. Search descends from a
// single entry point through the upper layers with greedy single-hop walks,
// then runs a bounded candidate-list search on layer 0.
//
// All operations are safe for concurrent use: searches share a read lock,
// mutations take the write lock.
package hnsw
