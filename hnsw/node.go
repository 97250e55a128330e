package hnsw

// Neighbor is a directed edge to another node with its cached distance.
// Distances are computed once at link time and reused during pruning.
type Neighbor struct {
	ID   uint32
	Dist float32
}

// node is a live graph node. Removed nodes are not represented by a flag on
// the node; they are deleted from the node table and the live bitmap, so
// serialization over live ids is total and never writes garbage.
type node struct {
	key    string
	vector []float32
	level  int
	// conns[layer] holds the neighbor list for each layer 0..level,
	// bounded by the graph's per-layer connection limit.
	conns [][]Neighbor
}

func newNode(key string, vector []float32, level int) *node {
	return &node{
		key:    key,
		vector: vector,
		level:  level,
		conns:  make([][]Neighbor, level+1),
	}
}

// removeNeighbor drops the edge to target at the given layer, if present.
func (n *node) removeNeighbor(layer int, target uint32) {
	conns := n.conns[layer]
	for i, c := range conns {
		if c.ID == target {
			conns[i] = conns[len(conns)-1]
			n.conns[layer] = conns[:len(conns)-1]
			return
		}
	}
}

func (n *node) hasNeighbor(layer int, target uint32) bool {
	for _, c := range n.conns[layer] {
		if c.ID == target {
			return true
		}
	}
	return false
}
