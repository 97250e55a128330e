// Package searcher implements the priority queues and visited-set tracking
// used by graph traversal.
package searcher
