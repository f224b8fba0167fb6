package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/docquery/docquery/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanLexical indicates a lexical entry without matching metadata.
	InconsistencyOrphanLexical InconsistencyType = iota
	// InconsistencyOrphanVector indicates a vector entry without matching metadata.
	InconsistencyOrphanVector
	// InconsistencyMissingLexical indicates a metadata chunk missing from the lexical index.
	InconsistencyMissingLexical
	// InconsistencyMissingVector indicates a metadata chunk missing from the vector index.
	InconsistencyMissingVector
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanLexical:
		return "orphan_lexical"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingLexical:
		return "missing_lexical"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	Owner   string
	ChunkID string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker validates that the lexical and vector indices
// agree with the metadata store, which is the source of truth. A crash
// between the delete and write halves of a staged replacement can
// leave either side stale.
type ConsistencyChecker struct {
	metadata store.MetadataStore
	indexes  *store.IndexStore
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(metadata store.MetadataStore, indexes *store.IndexStore) *ConsistencyChecker {
	return &ConsistencyChecker{metadata: metadata, indexes: indexes}
}

// Check scans one owner's stores for inconsistencies. O(n) in the
// owner's chunk count.
func (c *ConsistencyChecker) Check(ctx context.Context, owner string) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	metadataIDs, err := c.metadata.AllChunkIDs(ctx, owner)
	if err != nil {
		return nil, err
	}
	metadataSet := make(map[string]bool, len(metadataIDs))
	for _, id := range metadataIDs {
		metadataSet[id] = true
	}

	var lexicalIDs, vectorIDs []string
	if pair, ok := c.indexes.Peek(owner); ok {
		lexicalIDs = pair.Lexical.AllIDs()
		vectorIDs = pair.Vector.AllIDs()
	}

	for _, id := range lexicalIDs {
		if !metadataSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanLexical, Owner: owner, ChunkID: id})
		}
	}
	for _, id := range vectorIDs {
		if !metadataSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, Owner: owner, ChunkID: id})
		}
	}

	lexicalSet := make(map[string]bool, len(lexicalIDs))
	for _, id := range lexicalIDs {
		lexicalSet[id] = true
	}
	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
	}

	for _, id := range metadataIDs {
		if !lexicalSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingLexical, Owner: owner, ChunkID: id})
		}
		if !vectorSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, Owner: owner, ChunkID: id})
		}
	}

	return &CheckResult{
		Checked:         len(metadataIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair fixes detected inconsistencies. Orphans are deleted from the
// indices. Missing entries require the document text, so they are
// resolved by re-indexing the affected sources through the Indexer.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	orphans := make(map[string]map[InconsistencyType][]string)
	var missing int

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanLexical, InconsistencyOrphanVector:
			byType := orphans[issue.Owner]
			if byType == nil {
				byType = make(map[InconsistencyType][]string)
				orphans[issue.Owner] = byType
			}
			byType[issue.Type] = append(byType[issue.Type], issue.ChunkID)
		case InconsistencyMissingLexical, InconsistencyMissingVector:
			missing++
		}
	}

	for owner, byType := range orphans {
		pair, ok := c.indexes.Peek(owner)
		if !ok {
			continue
		}
		if ids := byType[InconsistencyOrphanLexical]; len(ids) > 0 {
			if err := pair.Lexical.Delete(ctx, ids); err != nil {
				slog.Warn("failed to delete orphan lexical entries",
					slog.String("owner", owner),
					slog.Int("count", len(ids)),
					slog.String("error", err.Error()))
			} else {
				slog.Info("deleted orphan lexical entries",
					slog.String("owner", owner),
					slog.Int("count", len(ids)))
			}
		}
		if ids := byType[InconsistencyOrphanVector]; len(ids) > 0 {
			if err := pair.Vector.Delete(ctx, ids); err != nil {
				slog.Warn("failed to delete orphan vector entries",
					slog.String("owner", owner),
					slog.Int("count", len(ids)),
					slog.String("error", err.Error()))
			} else {
				slog.Info("deleted orphan vector entries",
					slog.String("owner", owner),
					slog.Int("count", len(ids)))
			}
		}
	}

	if missing > 0 {
		slog.Warn("index has missing entries, re-index the affected sources",
			slog.Int("missing_count", missing))
	}
	return nil
}

// QuickCheck verifies that counts match across one owner's stores. It
// does not compare individual IDs.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context, owner string) (bool, error) {
	metadataCount, err := c.metadata.CountChunks(ctx, owner)
	if err != nil {
		return false, err
	}

	var lexicalCount, vectorCount int
	if pair, ok := c.indexes.Peek(owner); ok {
		lexicalCount = pair.Lexical.Count()
		vectorCount = pair.Vector.Count()
	}

	consistent := metadataCount == lexicalCount && metadataCount == vectorCount
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.String("owner", owner),
			slog.Int("metadata", metadataCount),
			slog.Int("lexical", lexicalCount),
			slog.Int("vector", vectorCount))
	}
	return consistent, nil
}
