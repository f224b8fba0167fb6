package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex implements VectorIndex with the pure Go coder/hnsw graph.
// Raw vectors are retained alongside the graph so that small collections
// and source-filtered queries can run an exact scan: below the
// ExactSearchThreshold the approximate graph saves nothing and would
// only cost recall.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	// string ID <-> internal graph key
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	vectors map[string][]float32 // normalized, for exact scan
	sources map[string]string

	closed bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

// vectorSnapshot stores everything but the graph for persistence. The
// graph itself uses coder/hnsw's own export format.
type vectorSnapshot struct {
	Config  VectorConfig
	IDMap   map[string]uint64
	NextKey uint64
	Vectors map[string][]float32
	Sources map[string]string
}

// NewHNSWIndex creates an empty vector index.
func NewHNSWIndex(cfg VectorConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index needs positive dimensions, got %d", cfg.Dimensions)
	}
	defaults := DefaultVectorConfig(cfg.Dimensions)
	if cfg.Metric == "" {
		cfg.Metric = defaults.Metric
	}
	if cfg.M == 0 {
		cfg.M = defaults.M
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = defaults.EfSearch
	}
	if cfg.ExactSearchThreshold == 0 {
		cfg.ExactSearchThreshold = defaults.ExactSearchThreshold
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[string][]float32),
		sources: make(map[string]string),
	}, nil
}

// Add inserts entries. An existing ID is replaced via lazy deletion:
// the old graph node is orphaned rather than removed, since deleting
// nodes from coder/hnsw graphs is unreliable near empty.
func (s *HNSWIndex) Add(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, entry := range entries {
		if len(entry.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(entry.Vector)}
		}
	}

	for _, entry := range entries {
		if existingKey, exists := s.idMap[entry.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, entry.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(entry.Vector))
		copy(vec, entry.Vector)
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[entry.ID] = key
		s.keyMap[key] = entry.ID
		s.vectors[entry.ID] = vec
		s.sources[entry.ID] = entry.Source
	}
	return nil
}

// Search returns the k nearest chunks. Source-filtered queries and
// collections at or below the exact-search threshold scan every vector;
// larger unfiltered queries use the graph.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int, sourceFilter string) ([]VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || len(s.idMap) == 0 {
		return []VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalized)
	}

	if sourceFilter != "" || len(s.idMap) <= s.config.ExactSearchThreshold {
		return s.exactSearchLocked(normalized, k, sourceFilter), nil
	}
	return s.graphSearchLocked(normalized, k), nil
}

func (s *HNSWIndex) exactSearchLocked(query []float32, k int, sourceFilter string) []VectorResult {
	results := make([]VectorResult, 0, len(s.vectors))
	for id, vec := range s.vectors {
		if sourceFilter != "" && s.sources[id] != sourceFilter {
			continue
		}
		distance := s.graph.Distance(query, vec)
		results = append(results, VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (s *HNSWIndex) graphSearchLocked(query []float32, k int) []VectorResult {
	// Over-fetch to compensate for lazily deleted nodes still present
	// in the graph.
	nodes := s.graph.Search(query, k+len(s.keyMap)/8+1)

	results := make([]VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // orphaned by lazy deletion
		}
		distance := s.graph.Distance(query, node.Value)
		results = append(results, VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
		if len(results) == k {
			break
		}
	}
	return results
}

// Delete removes entries by ID using lazy deletion.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.vectors, id)
			delete(s.sources, id)
		}
	}
	return nil
}

// AllIDs returns every indexed chunk ID, for consistency checking.
func (s *HNSWIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Save persists the graph and mappings using temp files and renames.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return s.saveSnapshot(path + ".meta")
}

func (s *HNSWIndex) saveSnapshot(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}

	snapshot := vectorSnapshot{
		Config:  s.config,
		IDMap:   s.idMap,
		NextKey: s.nextKey,
		Vectors: s.vectors,
		Sources: s.sources,
	}
	if err := gob.NewEncoder(file).Encode(snapshot); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close snapshot file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a saved index.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	var snapshot vectorSnapshot
	decodeErr := gob.NewDecoder(metaFile).Decode(&snapshot)
	_ = metaFile.Close()
	if decodeErr != nil {
		return fmt.Errorf("decode snapshot: %w", decodeErr)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	s.config = snapshot.Config
	s.idMap = snapshot.IDMap
	s.nextKey = snapshot.NextKey
	s.vectors = snapshot.Vectors
	s.sources = snapshot.Sources
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the index.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore maps a distance to a similarity in [0,1].
// Cosine distance spans [0,2], so score = 1 - d/2. L2 uses 1/(1+d).
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
