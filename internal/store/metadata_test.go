package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadata(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(owner, source string) *Document {
	return &Document{
		ID:          fmt.Sprintf("doc-%s-%s", owner, source),
		Owner:       owner,
		Source:      source,
		ContentHash: "hash-1",
		Language:    "en",
		ChunkCount:  2,
		IndexedAt:   time.Now().UTC(),
	}
}

func testChunks(doc *Document) []*ChunkRecord {
	return []*ChunkRecord{
		{ID: doc.ID + "-0", DocumentID: doc.ID, Owner: doc.Owner, Source: doc.Source,
			Ordinal: 0, Text: "first chunk", StartChar: 0, EndChar: 11, HeadingPath: "Intro", TokenCount: 3},
		{ID: doc.ID + "-1", DocumentID: doc.ID, Owner: doc.Owner, Source: doc.Source,
			Ordinal: 1, Text: "second chunk", StartChar: 8, EndChar: 20, HeadingPath: "Intro > Detail", TokenCount: 3},
	}
}

func TestMetadataDocumentRoundtrip(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	doc := testDoc("alice", "notes.md")
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "alice", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.ContentHash, got.ContentHash)
	assert.Equal(t, doc.Language, got.Language)
	assert.Equal(t, doc.ChunkCount, got.ChunkCount)
}

func TestMetadataDocumentNotFound(t *testing.T) {
	s := newTestMetadata(t)

	_, err := s.GetDocument(context.Background(), "alice", "missing.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetadataDocumentUpsert(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	doc := testDoc("alice", "notes.md")
	require.NoError(t, s.SaveDocument(ctx, doc))

	doc.ContentHash = "hash-2"
	doc.ChunkCount = 5
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "alice", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", got.ContentHash)
	assert.Equal(t, 5, got.ChunkCount)

	count, err := s.CountDocuments(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetadataChunksRoundtrip(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	doc := testDoc("alice", "notes.md")
	require.NoError(t, s.SaveDocument(ctx, doc))
	chunks := testChunks(doc)
	require.NoError(t, s.SaveChunks(ctx, chunks))

	ids := []string{chunks[1].ID, chunks[0].ID}
	got, err := s.GetChunks(ctx, ids)
	require.NoError(t, err)

	// Requested order is preserved.
	require.Len(t, got, 2)
	assert.Equal(t, chunks[1].ID, got[0].ID)
	assert.Equal(t, chunks[0].ID, got[1].ID)
	assert.Equal(t, "Intro > Detail", got[0].HeadingPath)
	assert.Equal(t, "second chunk", got[0].Text)
}

func TestMetadataGetChunksSkipsMissing(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	doc := testDoc("alice", "notes.md")
	require.NoError(t, s.SaveDocument(ctx, doc))
	chunks := testChunks(doc)
	require.NoError(t, s.SaveChunks(ctx, chunks))

	got, err := s.GetChunks(ctx, []string{chunks[0].ID, "nope"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, chunks[0].ID, got[0].ID)
}

func TestMetadataDeleteDocumentCascades(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	doc := testDoc("alice", "notes.md")
	require.NoError(t, s.SaveDocument(ctx, doc))
	require.NoError(t, s.SaveChunks(ctx, testChunks(doc)))

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))

	_, err := s.GetDocument(ctx, "alice", "notes.md")
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := s.CountChunks(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMetadataOwnerScoping(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	aliceDoc := testDoc("alice", "notes.md")
	bobDoc := testDoc("bob", "notes.md")
	require.NoError(t, s.SaveDocument(ctx, aliceDoc))
	require.NoError(t, s.SaveDocument(ctx, bobDoc))
	require.NoError(t, s.SaveChunks(ctx, testChunks(aliceDoc)))

	aliceIDs, err := s.AllChunkIDs(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, aliceIDs, 2)

	bobIDs, err := s.AllChunkIDs(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bobIDs)

	sources, err := s.ListSources(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.md"}, sources)
}

func TestMetadataChunkIDsByDocumentOrder(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	doc := testDoc("alice", "notes.md")
	require.NoError(t, s.SaveDocument(ctx, doc))
	chunks := testChunks(doc)
	// Insert out of order; retrieval is by ordinal.
	require.NoError(t, s.SaveChunks(ctx, []*ChunkRecord{chunks[1], chunks[0]}))

	ids, err := s.ChunkIDsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{chunks[0].ID, chunks[1].ID}, ids)
}

func TestMetadataClosed(t *testing.T) {
	s := newTestMetadata(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.GetDocument(context.Background(), "a", "b")
	assert.Error(t, err)
}
