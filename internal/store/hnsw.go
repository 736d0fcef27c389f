package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWCollection implements Collection over a pure-Go HNSW graph. Point
// IDs are strings; the graph keys are uint64, so the collection keeps a
// bidirectional mapping. Deletion is lazy: the node stays in the graph
// but loses its ID mapping, which keeps it out of results and sidesteps
// graph corruption when the last node is removed.
type HNSWCollection struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	opts    Options
	idMap   map[string]uint64
	keyMap  map[uint64]string
	payload map[string]Payload
	nextKey uint64
	closed  bool
}

// collectionSnapshot is the gob-persisted state alongside the graph file.
type collectionSnapshot struct {
	IDMap   map[string]uint64
	Payload map[string]Payload
	NextKey uint64
	Opts    Options
}

// NewHNSWCollection creates an empty collection.
func NewHNSWCollection(opts Options) (*HNSWCollection, error) {
	opts = opts.WithDefaults()
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("collection requires positive dimensions, got %d", opts.Dimensions)
	}

	graph := hnsw.NewGraph[uint64]()
	switch opts.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = opts.M
	graph.EfSearch = opts.EfSearch
	graph.Ml = 0.25

	return &HNSWCollection{
		graph:   graph,
		opts:    opts,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		payload: make(map[string]Payload),
	}, nil
}

// Add inserts points, replacing any existing point with the same ID.
func (c *HNSWCollection) Add(_ context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("collection is closed")
	}

	for _, p := range points {
		if len(p.Vector) != c.opts.Dimensions {
			return ErrDimensionMismatch{Expected: c.opts.Dimensions, Got: len(p.Vector)}
		}
	}

	for _, p := range points {
		if oldKey, exists := c.idMap[p.ID]; exists {
			delete(c.keyMap, oldKey)
			delete(c.idMap, p.ID)
			delete(c.payload, p.ID)
		}

		key := c.nextKey
		c.nextKey++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		if c.opts.Metric == "cos" {
			normalizeInPlace(vec)
		}

		c.graph.Add(hnsw.MakeNode(key, vec))
		c.idMap[p.ID] = key
		c.keyMap[key] = p.ID
		c.payload[p.ID] = p.Payload
	}
	return nil
}

// Delete removes points by ID. Unknown IDs are a no-op.
func (c *HNSWCollection) Delete(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("collection is closed")
	}

	for _, id := range ids {
		if key, exists := c.idMap[id]; exists {
			delete(c.keyMap, key)
			delete(c.idMap, id)
			delete(c.payload, id)
		}
	}
	return nil
}

// Search returns up to k live points nearest the query, best first.
// Lazily deleted nodes may surface from the graph, so the search
// over-fetches and filters them out by the ID mapping.
func (c *HNSWCollection) Search(_ context.Context, query []float32, k int, minScore float32) ([]*SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("collection is closed")
	}
	if len(query) != c.opts.Dimensions {
		return nil, ErrDimensionMismatch{Expected: c.opts.Dimensions, Got: len(query)}
	}
	if c.graph.Len() == 0 || k <= 0 {
		return []*SearchResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if c.opts.Metric == "cos" {
		normalizeInPlace(normalized)
	}

	fetch := k + (c.graph.Len() - len(c.idMap))
	nodes := c.graph.Search(normalized, fetch)

	results := make([]*SearchResult, 0, k)
	for _, node := range nodes {
		id, live := c.keyMap[node.Key]
		if !live {
			continue
		}
		score := distanceToScore(c.graph.Distance(normalized, node.Value), c.opts.Metric)
		if score < minScore {
			continue
		}
		results = append(results, &SearchResult{
			ID:      id,
			Score:   score,
			Payload: c.payload[id],
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Contains reports whether a live point with this ID exists.
func (c *HNSWCollection) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.idMap[id]
	return exists
}

// Count returns the number of live points.
func (c *HNSWCollection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.idMap)
}

// Orphans returns the number of lazily deleted nodes still in the graph.
func (c *HNSWCollection) Orphans() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	return c.graph.Len() - len(c.idMap)
}

// Save writes the graph and its snapshot atomically (temp file + rename).
func (c *HNSWCollection) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("collection is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := c.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close graph file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename graph file: %w", err)
	}

	return c.saveSnapshot(path + ".meta")
}

func (c *HNSWCollection) saveSnapshot(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}

	snap := collectionSnapshot{
		IDMap:   c.idMap,
		Payload: c.payload,
		NextKey: c.nextKey,
		Opts:    c.opts,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a collection saved by Save.
func (c *HNSWCollection) Load(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("collection is closed")
	}

	if err := c.loadSnapshot(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := c.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (c *HNSWCollection) loadSnapshot(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	var snap collectionSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	c.idMap = snap.IDMap
	c.payload = snap.Payload
	c.nextKey = snap.NextKey
	c.opts = snap.Opts
	c.keyMap = make(map[uint64]string, len(snap.IDMap))
	for id, key := range snap.IDMap {
		c.keyMap[key] = id
	}
	return nil
}

// Close releases the graph. Further calls fail.
func (c *HNSWCollection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.graph = nil
	return nil
}

var _ Collection = (*HNSWCollection)(nil)

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a 0..1 similarity score.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		// Cosine distance ranges 0..2.
		return 1.0 - distance/2.0
	}
}
