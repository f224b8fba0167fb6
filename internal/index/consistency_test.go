package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery/docquery/internal/store"
)

func TestConsistencyCleanStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.indexer.Index(ctx, Request{Owner: "alice", Source: "a.md", Text: docText()})
	require.NoError(t, err)

	checker := NewConsistencyChecker(f.metadata, f.indexes)
	result, err := checker.Check(ctx, "alice")
	require.NoError(t, err)

	assert.Greater(t, result.Checked, 0)
	assert.Empty(t, result.Inconsistencies)

	ok, err := checker.QuickCheck(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsistencyDetectsOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.indexer.Index(ctx, Request{Owner: "alice", Source: "a.md", Text: docText()})
	require.NoError(t, err)

	// Inject entries the metadata store knows nothing about.
	pair, ok := f.indexes.Peek("alice")
	require.True(t, ok)
	require.NoError(t, pair.Lexical.Add(ctx, []store.LexicalEntry{
		{ID: "ghost-lex", Source: "a.md", Terms: []string{"ghost"}},
	}))
	require.NoError(t, pair.Vector.Add(ctx, []store.VectorEntry{
		{ID: "ghost-vec", Source: "a.md", Vector: make([]float32, f.embedder.Dimensions())},
	}))

	checker := NewConsistencyChecker(f.metadata, f.indexes)
	result, err := checker.Check(ctx, "alice")
	require.NoError(t, err)

	types := make(map[InconsistencyType]int)
	for _, issue := range result.Inconsistencies {
		types[issue.Type]++
	}
	assert.Equal(t, 1, types[InconsistencyOrphanLexical])
	assert.Equal(t, 1, types[InconsistencyOrphanVector])

	ok2, err := checker.QuickCheck(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestConsistencyRepairRemovesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.indexer.Index(ctx, Request{Owner: "alice", Source: "a.md", Text: docText()})
	require.NoError(t, err)

	pair, ok := f.indexes.Peek("alice")
	require.True(t, ok)
	require.NoError(t, pair.Lexical.Add(ctx, []store.LexicalEntry{
		{ID: "ghost-lex", Source: "a.md", Terms: []string{"ghost"}},
	}))

	checker := NewConsistencyChecker(f.metadata, f.indexes)
	check, err := checker.Check(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, check.Inconsistencies)

	require.NoError(t, checker.Repair(ctx, check.Inconsistencies))

	assert.Equal(t, result.ChunksCreated, pair.Lexical.Count())
	after, err := checker.Check(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, after.Inconsistencies)
}

func TestConsistencyDetectsMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.indexer.Index(ctx, Request{Owner: "alice", Source: "a.md", Text: docText()})
	require.NoError(t, err)

	pair, ok := f.indexes.Peek("alice")
	require.True(t, ok)
	ids := pair.Lexical.AllIDs()
	require.NotEmpty(t, ids)
	require.NoError(t, pair.Lexical.Delete(ctx, ids[:1]))

	checker := NewConsistencyChecker(f.metadata, f.indexes)
	result, err := checker.Check(ctx, "alice")
	require.NoError(t, err)

	var missing int
	for _, issue := range result.Inconsistencies {
		if issue.Type == InconsistencyMissingLexical {
			missing++
		}
	}
	assert.Equal(t, 1, missing)
}

func TestConsistencyUnknownOwner(t *testing.T) {
	f := newFixture(t)
	checker := NewConsistencyChecker(f.metadata, f.indexes)

	result, err := checker.Check(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, result.Checked)
	assert.Empty(t, result.Inconsistencies)

	ok, err := checker.QuickCheck(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, ok)
}
