package hnsw

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// countingWriter wraps an io.Writer and counts bytes written.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// countingReader wraps an io.Reader and counts bytes read.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// WriteTo serializes the graph in little-endian binary form. Only live nodes
// are written; removed nodes leave no trace in the stream.
func (g *Graph) WriteTo(w io.Writer) (int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cw := &countingWriter{w: w}

	header := []any{
		uint32(g.dimension),
		uint32(g.mmax),
		uint32(g.opts.EFConstruction),
		uint32(g.count),
		int32(g.maxLevel),
		g.entryPoint,
		g.nextID,
	}
	for _, v := range header {
		if err := binary.Write(cw, binary.LittleEndian, v); err != nil {
			return cw.n, err
		}
	}

	it := g.live.Iterator()
	for it.HasNext() {
		id := it.Next()
		if err := g.writeNode(cw, id, g.nodes[id]); err != nil {
			return cw.n, err
		}
	}

	return cw.n, nil
}

func (g *Graph) writeNode(w io.Writer, id uint32, n *node) error {
	if len(n.key) > math.MaxUint16 {
		return fmt.Errorf("hnsw: key too long: %d bytes", len(n.key))
	}

	if err := binary.Write(w, binary.LittleEndian, id); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(n.key))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(n.key)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(n.level)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, n.vector); err != nil {
		return err
	}

	for level := 0; level <= n.level; level++ {
		conns := n.conns[level]
		if err := binary.Write(w, binary.LittleEndian, uint16(len(conns))); err != nil {
			return err
		}
		for _, nb := range conns {
			if err := binary.Write(w, binary.LittleEndian, nb.ID); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, nb.Dist); err != nil {
				return err
			}
		}
	}

	return nil
}

// ReadFrom replaces the graph contents with a previously serialized graph.
// Structural parameters (dimension, M, construction width) are adopted from
// the stream so search behavior matches the graph that was saved.
func (g *Graph) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}

	var (
		dimension, mmax, efConstruction, count uint32
		maxLevel                               int32
		entryPoint, nextID                     uint32
	)
	header := []any{&dimension, &mmax, &efConstruction, &count, &maxLevel, &entryPoint, &nextID}
	for _, v := range header {
		if err := binary.Read(cr, binary.LittleEndian, v); err != nil {
			return cr.n, fmt.Errorf("%w: header: %v", ErrCorrupted, err)
		}
	}

	if mmax < minimumM || (count > 0 && dimension == 0) {
		return cr.n, fmt.Errorf("%w: implausible header", ErrCorrupted)
	}

	nodes := make(map[uint32]*node, count)
	keys := make(map[string]uint32, count)
	live := roaring.New()

	for i := uint32(0); i < count; i++ {
		id, n, err := readNode(cr, int(dimension))
		if err != nil {
			return cr.n, err
		}
		if _, dup := nodes[id]; dup {
			return cr.n, fmt.Errorf("%w: duplicate node id %d", ErrCorrupted, id)
		}
		if _, dup := keys[n.key]; dup {
			return cr.n, fmt.Errorf("%w: duplicate key %q", ErrCorrupted, n.key)
		}
		nodes[id] = n
		keys[n.key] = id
		live.Add(id)
	}

	// Second pass: every referenced neighbor must exist.
	for id, n := range nodes {
		for level := 0; level <= n.level; level++ {
			for _, nb := range n.conns[level] {
				ref, ok := nodes[nb.ID]
				if !ok {
					return cr.n, fmt.Errorf("%w: node %d references unknown neighbor %d", ErrCorrupted, id, nb.ID)
				}
				if level > ref.level {
					return cr.n, fmt.Errorf("%w: node %d references neighbor %d above its level", ErrCorrupted, id, nb.ID)
				}
			}
		}
	}

	if count > 0 {
		ep, ok := nodes[entryPoint]
		if !ok {
			return cr.n, fmt.Errorf("%w: entry point %d not found", ErrCorrupted, entryPoint)
		}
		if ep.level != int(maxLevel) {
			return cr.n, fmt.Errorf("%w: entry point level mismatch", ErrCorrupted)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.dimension = int(dimension)
	g.mmax = int(mmax)
	g.mmax0 = mmax0Multiplier * int(mmax)
	g.layerMultiplier = layerNormalizationBase / math.Log(float64(mmax))
	g.opts.M = int(mmax)
	g.opts.EFConstruction = int(efConstruction)
	g.nodes = nodes
	g.keys = keys
	g.live = live
	g.count = int(count)
	g.maxLevel = int(maxLevel)
	g.entryPoint = entryPoint
	g.nextID = nextID

	if g.count == 0 {
		g.maxLevel = -1
	}

	return cr.n, nil
}

func readNode(r io.Reader, dimension int) (uint32, *node, error) {
	var id uint32
	if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
		return 0, nil, fmt.Errorf("%w: node id: %v", ErrCorrupted, err)
	}

	var keyLen uint16
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return 0, nil, fmt.Errorf("%w: key length: %v", ErrCorrupted, err)
	}
	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return 0, nil, fmt.Errorf("%w: key: %v", ErrCorrupted, err)
	}

	var level uint16
	if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
		return 0, nil, fmt.Errorf("%w: level: %v", ErrCorrupted, err)
	}

	vector := make([]float32, dimension)
	if err := binary.Read(r, binary.LittleEndian, vector); err != nil {
		return 0, nil, fmt.Errorf("%w: vector: %v", ErrCorrupted, err)
	}

	n := newNode(string(keyBuf), vector, int(level))
	for l := 0; l <= int(level); l++ {
		var connCount uint16
		if err := binary.Read(r, binary.LittleEndian, &connCount); err != nil {
			return 0, nil, fmt.Errorf("%w: connection count: %v", ErrCorrupted, err)
		}
		conns := make([]Neighbor, connCount)
		for i := range conns {
			if err := binary.Read(r, binary.LittleEndian, &conns[i].ID); err != nil {
				return 0, nil, fmt.Errorf("%w: neighbor id: %v", ErrCorrupted, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &conns[i].Dist); err != nil {
				return 0, nil, fmt.Errorf("%w: neighbor distance: %v", ErrCorrupted, err)
			}
		}
		n.conns[l] = conns
	}

	return id, n, nil
}
