package store

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// IndexStore manages one lexical and one vector index per owner. Owner
// isolation is structural: a query can only ever touch the pair built
// for its owner, so no filtering step can leak across collections.
type IndexStore struct {
	mu     sync.RWMutex
	lexCfg LexicalConfig
	vecCfg VectorConfig
	owners map[string]*OwnerIndexes
	closed bool
}

// OwnerIndexes bundles one owner's indices.
type OwnerIndexes struct {
	Lexical *BM25Index
	Vector  *HNSWIndex
}

// NewIndexStore creates an empty index store.
func NewIndexStore(lexCfg LexicalConfig, vecCfg VectorConfig) *IndexStore {
	return &IndexStore{
		lexCfg: lexCfg,
		vecCfg: vecCfg,
		owners: make(map[string]*OwnerIndexes),
	}
}

// Owner returns the owner's index pair, creating it on first use.
func (s *IndexStore) Owner(owner string) (*OwnerIndexes, error) {
	s.mu.RLock()
	pair, ok := s.owners[owner]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("index store is closed")
	}
	if ok {
		return pair, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("index store is closed")
	}
	if pair, ok := s.owners[owner]; ok {
		return pair, nil
	}

	vector, err := NewHNSWIndex(s.vecCfg)
	if err != nil {
		return nil, fmt.Errorf("create vector index for %q: %w", owner, err)
	}
	pair = &OwnerIndexes{
		Lexical: NewBM25Index(s.lexCfg),
		Vector:  vector,
	}
	s.owners[owner] = pair
	return pair, nil
}

// Peek returns the owner's index pair without creating one.
func (s *IndexStore) Peek(owner string) (*OwnerIndexes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pair, ok := s.owners[owner]
	return pair, ok
}

// Owners lists owners with indices.
func (s *IndexStore) Owners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.owners))
	for owner := range s.owners {
		owners = append(owners, owner)
	}
	return owners
}

// ownerDir maps an owner name to a filesystem-safe directory name.
func ownerDir(owner string) string {
	hash := sha256.Sum256([]byte(owner))
	return hex.EncodeToString(hash[:8])
}

// SaveAll persists every owner's indices under dir, one subdirectory
// per owner plus a manifest mapping directories back to owner names.
func (s *IndexStore) SaveAll(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index store is closed")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	manifest := make(map[string]string, len(s.owners))
	for owner, pair := range s.owners {
		sub := filepath.Join(dir, ownerDir(owner))
		if err := pair.Lexical.Save(filepath.Join(sub, "lexical.idx")); err != nil {
			return fmt.Errorf("save lexical index for %q: %w", owner, err)
		}
		if err := pair.Vector.Save(filepath.Join(sub, "vectors.hnsw")); err != nil {
			return fmt.Errorf("save vector index for %q: %w", owner, err)
		}
		manifest[ownerDir(owner)] = owner
	}

	tmpPath := filepath.Join(dir, "owners.manifest.tmp")
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(manifest); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close manifest: %w", err)
	}
	return os.Rename(tmpPath, filepath.Join(dir, "owners.manifest"))
}

// LoadAll restores indices saved by SaveAll. A missing manifest is a
// fresh start, not an error.
func (s *IndexStore) LoadAll(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index store is closed")
	}

	file, err := os.Open(filepath.Join(dir, "owners.manifest"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open manifest: %w", err)
	}
	var manifest map[string]string
	decodeErr := gob.NewDecoder(file).Decode(&manifest)
	_ = file.Close()
	if decodeErr != nil {
		return fmt.Errorf("decode manifest: %w", decodeErr)
	}

	for sub, owner := range manifest {
		vector, err := NewHNSWIndex(s.vecCfg)
		if err != nil {
			return fmt.Errorf("create vector index for %q: %w", owner, err)
		}
		pair := &OwnerIndexes{
			Lexical: NewBM25Index(s.lexCfg),
			Vector:  vector,
		}
		base := filepath.Join(dir, sub)
		if err := pair.Lexical.Load(filepath.Join(base, "lexical.idx")); err != nil {
			return fmt.Errorf("load lexical index for %q: %w", owner, err)
		}
		if err := pair.Vector.Load(filepath.Join(base, "vectors.hnsw")); err != nil {
			return fmt.Errorf("load vector index for %q: %w", owner, err)
		}
		s.owners[owner] = pair
	}
	return nil
}

// Close closes every owner's vector index.
func (s *IndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for owner, pair := range s.owners {
		if err := pair.Vector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vector index for %q: %w", owner, err))
		}
	}
	return errors.Join(errs...)
}
