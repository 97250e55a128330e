package hnsw

import (
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/semdex/distance"
	"github.com/hupe1980/semdex/internal/searcher"
)

const (
	// layerNormalizationBase is the base constant for the exponential layer
	// probability distribution.
	layerNormalizationBase = 1.0

	// mmax0Multiplier is the multiplier for calculating maximum connections
	// at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// DefaultM is the default number of bidirectional links per layer.
	DefaultM = 16

	// DefaultEFConstruction is the default size of the dynamic candidate list
	// during insertion.
	DefaultEFConstruction = 200
)

// Options represents the options for configuring the Graph.
type Options struct {
	// Dimension fixes the vector dimensionality. If zero, the dimension is
	// fixed by the first insertion instead.
	Dimension int

	// M specifies the number of established connections for every new element
	// during construction. The range M=12-48 is ok for most use cases.
	M int

	// EFConstruction specifies the size of the dynamic candidate list used
	// while linking a new node. Larger values improve graph quality at the
	// cost of slower construction.
	EFConstruction int

	// Heuristic enables diversity-aware neighbor selection (relative
	// neighborhood graph property) instead of plain keep-M-nearest.
	Heuristic bool

	// RandomSeed makes probabilistic level assignment reproducible.
	// If nil, the graph is seeded from the wall clock.
	RandomSeed *int64
}

// DefaultOptions contains the default options for the Graph.
var DefaultOptions = Options{
	Dimension:      0,
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	Heuristic:      false,
}

// SearchResult represents a single nearest-neighbor match.
type SearchResult struct {
	Key      string
	Distance float32
}

// Graph is a string-keyed HNSW proximity graph.
//
// A single coarse RWMutex protects the node table, adjacency lists and entry
// point: searches share the read lock, mutations take the write lock.
type Graph struct {
	mu sync.RWMutex

	dimension       int
	mmax            int     // max connections per layer >= 1
	mmax0           int     // max connections at layer 0
	layerMultiplier float64 // normalization factor for level generation
	rng             *rand.Rand

	nodes map[uint32]*node
	keys  map[string]uint32
	live  *roaring.Bitmap // internal ids of live nodes

	nextID     uint32
	entryPoint uint32
	maxLevel   int // -1 while the graph is empty
	count      int

	opts Options

	scratchPool *sync.Pool
}

// New creates a new Graph.
func New(optFns ...func(o *Options)) *Graph {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < minimumM {
		// M < 2 would break the level normalization (division by log(M)).
		opts.M = minimumM
	}
	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultEFConstruction
	}

	var rng *rand.Rand
	if opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*opts.RandomSeed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Graph{
		dimension:       opts.Dimension,
		mmax:            opts.M,
		mmax0:           mmax0Multiplier * opts.M,
		layerMultiplier: layerNormalizationBase / math.Log(float64(opts.M)),
		rng:             rng,
		nodes:           make(map[uint32]*node),
		keys:            make(map[string]uint32),
		live:            roaring.New(),
		maxLevel:        -1,
		opts:            opts,
		scratchPool: &sync.Pool{
			New: func() any {
				return &scratch{
					visited:    searcher.NewVisitedSet(1024),
					candidates: searcher.NewPriorityQueue(false),
					results:    searcher.NewPriorityQueue(true),
				}
			},
		},
	}
}

// scratch is a reusable search context. It is pooled so concurrent searches
// (which only share the graph read lock) never share scratch state.
type scratch struct {
	visited    *searcher.VisitedSet
	candidates *searcher.PriorityQueue // min-heap: candidates to explore
	results    *searcher.PriorityQueue // max-heap: current top-ef results
}

// M returns the configured maximum connections per layer.
func (g *Graph) M() int { return g.mmax }

// EFConstruction returns the configured construction candidate-list width.
func (g *Graph) EFConstruction() int { return g.opts.EFConstruction }

// Dimension returns the vector dimensionality, or 0 if not yet fixed.
func (g *Graph) Dimension() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dimension
}

// Count returns the number of live nodes. O(1).
func (g *Graph) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

// Contains reports whether key is present in the graph.
func (g *Graph) Contains(key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.keys[key]
	return ok
}

// Keys returns the keys of all live nodes. Order is unspecified.
func (g *Graph) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := make([]string, 0, g.count)
	it := g.live.Iterator()
	for it.HasNext() {
		keys = append(keys, g.nodes[it.Next()].key)
	}
	return keys
}

// Add inserts a vector under the given key. If the key already exists, the
// old node and all of its edges are discarded first and the key is inserted
// fresh (atomic replace-by-reinsertion); Count is unaffected by a re-Add.
func (g *Graph) Add(key string, vector []float32) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dimension == 0 {
		g.dimension = len(vector)
	} else if len(vector) != g.dimension {
		return &ErrDimensionMismatch{Expected: g.dimension, Actual: len(vector)}
	}

	if oldID, ok := g.keys[key]; ok {
		g.removeLocked(oldID)
	}

	// Defensive copy so later caller mutation cannot corrupt the graph.
	vec := make([]float32, len(vector))
	copy(vec, vector)

	id := g.nextID
	g.nextID++

	level := g.randomLevel()
	n := newNode(key, vec, level)

	// The node enters the table before linking: pruning an overflowing
	// neighbor list may detach the just-added reverse edge, which points
	// back at this node.
	g.nodes[id] = n

	if g.count == 0 {
		g.publishLocked(id, n)
		g.entryPoint = id
		g.maxLevel = level
		return nil
	}

	g.linkLocked(id, n)
	g.publishLocked(id, n)

	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = id
	}

	return nil
}

// Remove deletes the node stored under key, detaching it from every neighbor
// list it appears in. It returns false if the key is unknown.
func (g *Graph) Remove(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, ok := g.keys[key]
	if !ok {
		return false
	}
	g.removeLocked(id)
	return true
}

// Search returns up to k nearest neighbors of query in ascending distance.
// ef bounds the candidate-list width at layer 0 (values below k are raised
// to k). An empty graph yields an empty result; if k >= Count, all live
// nodes are returned sorted by distance.
func (g *Graph) Search(query []float32, k int, ef int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) == 0 {
		return nil, ErrEmptyVector
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.count == 0 {
		return nil, nil
	}
	if len(query) != g.dimension {
		return nil, &ErrDimensionMismatch{Expected: g.dimension, Actual: len(query)}
	}

	// With k covering the whole graph an exact scan is both cheaper and
	// guarantees every live node is returned.
	if k >= g.count {
		return g.scanLocked(query, k), nil
	}

	if ef < k {
		ef = k
	}

	sc := g.scratchPool.Get().(*scratch)
	defer g.scratchPool.Put(sc)

	currID := g.entryPoint
	currDist := distance.Cosine(query, g.nodes[currID].vector)
	currID, currDist = g.greedyDescendLocked(query, currID, currDist, g.maxLevel, 0)

	g.searchLayerLocked(sc, query, currID, currDist, 0, ef)

	results := sc.results
	for results.Len() > k {
		_, _ = results.PopItem()
	}

	out := make([]SearchResult, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		item, _ := results.PopItem()
		out[i] = SearchResult{Key: g.nodes[item.Node].key, Distance: item.Distance}
	}
	return out, nil
}

// publishLocked makes a node visible in the node table and id maps.
func (g *Graph) publishLocked(id uint32, n *node) {
	g.nodes[id] = n
	g.keys[n.key] = id
	g.live.Add(id)
	g.count++
}

// randomLevel draws a node level from a geometric distribution where higher
// layers are exponentially rarer; the expected chain length is 1/ln(M).
func (g *Graph) randomLevel() int {
	r := g.rng.Float64()
	if r == 0 {
		r = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(r) * g.layerMultiplier))
}

// layerBound returns the neighbor-list size bound for a layer.
func (g *Graph) layerBound(layer int) int {
	if layer == 0 {
		return g.mmax0
	}
	return g.mmax
}

// greedyDescendLocked walks single-hop nearest-neighbor steps from fromLevel
// down to (but not including) toLevel and returns the best entry found.
func (g *Graph) greedyDescendLocked(query []float32, currID uint32, currDist float32, fromLevel, toLevel int) (uint32, float32) {
	for level := fromLevel; level > toLevel; level-- {
		changed := true
		for changed {
			changed = false
			curr := g.nodes[currID]
			if level > curr.level {
				continue
			}
			for _, next := range curr.conns[level] {
				nextDist := distance.Cosine(query, g.nodes[next.ID].vector)
				if nextDist < currDist {
					currID = next.ID
					currDist = nextDist
					changed = true
				}
			}
		}
	}
	return currID, currDist
}

// linkLocked finds and creates the bidirectional edges for a new node.
// The node is not yet published, so searches during descent cannot reach it.
func (g *Graph) linkLocked(id uint32, n *node) {
	currID := g.entryPoint
	currDist := distance.Cosine(n.vector, g.nodes[currID].vector)

	// Descend layers above the node's own level: entry-finding only, no
	// candidate expansion.
	currID, currDist = g.greedyDescendLocked(n.vector, currID, currDist, g.maxLevel, n.level)

	sc := g.scratchPool.Get().(*scratch)
	defer g.scratchPool.Put(sc)

	for level := min(n.level, g.maxLevel); level >= 0; level-- {
		g.searchLayerLocked(sc, n.vector, currID, currDist, level, g.opts.EFConstruction)

		// The best candidate becomes the entry for the next lower layer.
		if best, ok := sc.results.MinItem(); ok {
			currID = best.Node
			currDist = best.Distance
		}

		neighbors := g.selectNeighborsLocked(n.vector, sc.results, g.layerBound(level))
		n.conns[level] = neighbors

		for _, nb := range neighbors {
			g.addConnectionLocked(nb.ID, id, nb.Dist, level)
		}
	}
}

// searchLayerLocked runs a candidate-list search of width ef on one layer,
// leaving the results (bounded max-heap) in sc.results.
func (g *Graph) searchLayerLocked(sc *scratch, query []float32, epID uint32, epDist float32, level, ef int) {
	visited := sc.visited
	candidates := sc.candidates
	results := sc.results

	visited.Reset()
	candidates.Reset()
	results.Reset()

	visited.Visit(epID)
	candidates.PushItem(searcher.PriorityQueueItem{Node: epID, Distance: epDist})
	results.PushItem(searcher.PriorityQueueItem{Node: epID, Distance: epDist})

	for candidates.Len() > 0 {
		curr, _ := candidates.PopItem()

		// No unvisited candidate can improve a full result set.
		if results.Len() >= ef {
			worst, _ := results.TopItem()
			if curr.Distance > worst.Distance {
				break
			}
		}

		currNode := g.nodes[curr.Node]
		if level > currNode.level {
			continue
		}
		for _, next := range currNode.conns[level] {
			if visited.Visited(next.ID) {
				continue
			}
			visited.Visit(next.ID)

			nextDist := distance.Cosine(query, g.nodes[next.ID].vector)

			// Classic HNSW pruning: skip obviously-bad candidates once the
			// result set is full.
			if results.Len() >= ef {
				worst, _ := results.TopItem()
				if nextDist > worst.Distance {
					continue
				}
			}

			candidates.PushItem(searcher.PriorityQueueItem{Node: next.ID, Distance: nextDist})
			results.PushItemBounded(searcher.PriorityQueueItem{Node: next.ID, Distance: nextDist}, ef)
		}
	}
}

// selectNeighborsLocked reduces the candidate heap to at most m neighbors,
// nearest first. With Heuristic enabled, diversity-aware selection is used;
// the default is plain keep-M-nearest.
func (g *Graph) selectNeighborsLocked(query []float32, results *searcher.PriorityQueue, m int) []Neighbor {
	// Drain the max-heap into ascending order.
	sorted := make([]searcher.PriorityQueueItem, results.Len())
	for i := len(sorted) - 1; i >= 0; i-- {
		sorted[i], _ = results.PopItem()
	}

	if !g.opts.Heuristic || len(sorted) <= m {
		if len(sorted) > m {
			sorted = sorted[:m]
		}
		out := make([]Neighbor, len(sorted))
		for i, item := range sorted {
			out[i] = Neighbor{ID: item.Node, Dist: item.Distance}
		}
		return out
	}

	return g.selectHeuristicLocked(sorted, m)
}

// selectHeuristicLocked applies the relative-neighborhood-graph heuristic:
// a candidate is kept only if it is closer to the query than to any already
// selected neighbor. Remaining slots are filled with the nearest rejects.
func (g *Graph) selectHeuristicLocked(sorted []searcher.PriorityQueueItem, m int) []Neighbor {
	result := make([]Neighbor, 0, m)
	rejected := make([]searcher.PriorityQueueItem, 0, len(sorted))

	for _, cand := range sorted {
		if len(result) >= m {
			break
		}

		candVec := g.nodes[cand.Node].vector
		good := true
		for _, sel := range result {
			if distance.Cosine(candVec, g.nodes[sel.ID].vector) < cand.Distance {
				good = false
				break
			}
		}

		if good {
			result = append(result, Neighbor{ID: cand.Node, Dist: cand.Distance})
		} else {
			rejected = append(rejected, cand)
		}
	}

	for _, cand := range rejected {
		if len(result) >= m {
			break
		}
		result = append(result, Neighbor{ID: cand.Node, Dist: cand.Distance})
	}

	return result
}

// addConnectionLocked adds the reverse edge target->source and prunes the
// target's neighbor list back to its bound if it overflowed. Pruned edges
// are removed from both endpoints to keep adjacency symmetric.
func (g *Graph) addConnectionLocked(targetID, sourceID uint32, dist float32, level int) {
	target := g.nodes[targetID]
	if target.hasNeighbor(level, sourceID) {
		return
	}
	target.conns[level] = append(target.conns[level], Neighbor{ID: sourceID, Dist: dist})

	bound := g.layerBound(level)
	if len(target.conns[level]) <= bound {
		return
	}

	conns := target.conns[level]
	var keep []Neighbor
	if g.opts.Heuristic {
		items := make([]searcher.PriorityQueueItem, len(conns))
		for i, c := range conns {
			items[i] = searcher.PriorityQueueItem{Node: c.ID, Distance: c.Dist}
		}
		slices.SortFunc(items, func(a, b searcher.PriorityQueueItem) int {
			if a.Distance < b.Distance {
				return -1
			}
			if a.Distance > b.Distance {
				return 1
			}
			return 0
		})
		keep = g.selectHeuristicLocked(items, bound)
	} else {
		keep = slices.Clone(conns)
		slices.SortFunc(keep, func(a, b Neighbor) int {
			if a.Dist < b.Dist {
				return -1
			}
			if a.Dist > b.Dist {
				return 1
			}
			return 0
		})
		keep = keep[:bound]
	}

	kept := make(map[uint32]struct{}, len(keep))
	for _, c := range keep {
		kept[c.ID] = struct{}{}
	}
	for _, c := range conns {
		if _, ok := kept[c.ID]; !ok {
			g.nodes[c.ID].removeNeighbor(level, targetID)
		}
	}
	target.conns[level] = keep
}

// removeLocked physically deletes a node: every edge is detached from both
// endpoints, the node leaves the table, and the entry point is re-elected if
// it pointed at the removed node.
func (g *Graph) removeLocked(id uint32) {
	n := g.nodes[id]

	for level := 0; level <= n.level; level++ {
		for _, nb := range n.conns[level] {
			g.nodes[nb.ID].removeNeighbor(level, id)
		}
	}

	delete(g.nodes, id)
	delete(g.keys, n.key)
	g.live.Remove(id)
	g.count--

	if g.count == 0 {
		g.entryPoint = 0
		g.maxLevel = -1
		return
	}

	if id == g.entryPoint {
		g.electEntryPointLocked()
	}
}

// electEntryPointLocked picks any live node at the highest occupied layer.
func (g *Graph) electEntryPointLocked() {
	bestID := uint32(0)
	bestLevel := -1

	it := g.live.Iterator()
	for it.HasNext() {
		candID := it.Next()
		if lvl := g.nodes[candID].level; lvl > bestLevel {
			bestID = candID
			bestLevel = lvl
		}
	}

	g.entryPoint = bestID
	g.maxLevel = bestLevel
}

// scanLocked is an exact scan over all live nodes, used when k >= Count.
func (g *Graph) scanLocked(query []float32, k int) []SearchResult {
	pq := searcher.NewPriorityQueue(true)

	it := g.live.Iterator()
	for it.HasNext() {
		id := it.Next()
		d := distance.Cosine(query, g.nodes[id].vector)
		pq.PushItemBounded(searcher.PriorityQueueItem{Node: id, Distance: d}, k)
	}

	out := make([]SearchResult, pq.Len())
	for i := pq.Len() - 1; i >= 0; i-- {
		item, _ := pq.PopItem()
		out[i] = SearchResult{Key: g.nodes[item.Node].key, Distance: item.Distance}
	}
	return out
}
