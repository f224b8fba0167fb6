// Package index turns raw documents into searchable chunks. The
// Indexer owns the write path: chunking, embedding, tokenization and
// the staged replacement of a document's prior state.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docquery/docquery/internal/chunk"
	"github.com/docquery/docquery/internal/embed"
	"github.com/docquery/docquery/internal/store"
	"github.com/docquery/docquery/internal/token"
)

// Status reports the outcome of an Index call.
type Status string

const (
	// StatusOK means the document was chunked, embedded and written.
	StatusOK Status = "ok"
	// StatusSkippedUnchanged means the content hash matched the
	// indexed version and nothing was touched.
	StatusSkippedUnchanged Status = "skipped_unchanged"
	// StatusFailed means indexing aborted and the prior state of the
	// document, if any, is intact.
	StatusFailed Status = "failed"
)

// Request describes one document to index.
type Request struct {
	Owner    string
	Source   string
	Text     string
	Language string // optional, detected from the text when empty
}

// Result reports what Index did.
type Result struct {
	DocumentID    string
	ChunksCreated int
	Status        Status
}

// Stats summarizes one owner's indexed state.
type Stats struct {
	Documents int
	Chunks    int
	Sources   []string
}

// Indexer is the single write path into the stores. Writes to the same
// (owner, source) pair are serialized; distinct documents index
// concurrently.
type Indexer struct {
	chunker  *chunk.Chunker
	analyzer *token.Analyzer
	embedder embed.Embedder
	indexes  *store.IndexStore
	metadata store.MetadataStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndexer wires the indexing pipeline.
func NewIndexer(chunker *chunk.Chunker, analyzer *token.Analyzer, embedder embed.Embedder, indexes *store.IndexStore, metadata store.MetadataStore) *Indexer {
	return &Indexer{
		chunker:  chunker,
		analyzer: analyzer,
		embedder: embedder,
		indexes:  indexes,
		metadata: metadata,
		locks:    make(map[string]*sync.Mutex),
	}
}

// documentLock returns the mutex serializing writes to one document.
func (ix *Indexer) documentLock(owner, source string) *sync.Mutex {
	key := owner + "\x00" + source
	ix.mu.Lock()
	defer ix.mu.Unlock()
	lock, ok := ix.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		ix.locks[key] = lock
	}
	return lock
}

// DocumentID derives the stable document identifier for (owner, source).
func DocumentID(owner, source string) string {
	hash := sha256.Sum256([]byte(owner + source))
	return hex.EncodeToString(hash[:])[:16]
}

// ChunkID derives a content-addressed chunk identifier. Re-indexing
// identical content reproduces identical IDs.
func ChunkID(owner, source string, ordinal int, text string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", owner, source, ordinal, text)))
	return hex.EncodeToString(hash[:])[:16]
}

func hashContent(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// Index chunks, embeds and stores one document, replacing any prior
// version. The replacement is staged: everything that can fail
// (chunking, embedding, tokenization) happens before the first delete,
// so a failure leaves the previously indexed version untouched.
func (ix *Indexer) Index(ctx context.Context, req Request) (*Result, error) {
	if req.Owner == "" {
		return &Result{Status: StatusFailed}, fmt.Errorf("owner is required")
	}
	if req.Source == "" {
		return &Result{Status: StatusFailed}, fmt.Errorf("source is required")
	}

	lock := ix.documentLock(req.Owner, req.Source)
	lock.Lock()
	defer lock.Unlock()

	docID := DocumentID(req.Owner, req.Source)
	contentHash := hashContent(req.Text)

	existing, err := ix.metadata.GetDocument(ctx, req.Owner, req.Source)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return &Result{DocumentID: docID, Status: StatusFailed}, fmt.Errorf("lookup document: %w", err)
	}
	if existing != nil && existing.ContentHash == contentHash {
		slog.Debug("document unchanged",
			slog.String("owner", req.Owner),
			slog.String("source", req.Source))
		return &Result{DocumentID: docID, ChunksCreated: 0, Status: StatusSkippedUnchanged}, nil
	}

	staged, err := ix.stage(ctx, req, docID, contentHash)
	if err != nil {
		return &Result{DocumentID: docID, Status: StatusFailed}, err
	}

	if err := ix.replace(ctx, req.Owner, docID, existing, staged); err != nil {
		return &Result{DocumentID: docID, Status: StatusFailed}, err
	}

	slog.Info("document indexed",
		slog.String("owner", req.Owner),
		slog.String("source", req.Source),
		slog.Int("chunks", len(staged.chunks)))
	return &Result{DocumentID: docID, ChunksCreated: len(staged.chunks), Status: StatusOK}, nil
}

// stagedDocument holds a fully prepared replacement before any store
// is touched.
type stagedDocument struct {
	document *store.Document
	chunks   []*store.ChunkRecord
	lexical  []store.LexicalEntry
	vectors  []store.VectorEntry
}

func (ix *Indexer) stage(ctx context.Context, req Request, docID, contentHash string) (*stagedDocument, error) {
	pieces := ix.chunker.Split(req.Text)

	language := req.Language
	if language == "" {
		language = string(token.DetectLanguage(req.Text))
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed document %s/%s: %w", req.Owner, req.Source, err)
	}
	if len(vectors) != len(pieces) {
		return nil, fmt.Errorf("embed document %s/%s: got %d vectors for %d chunks", req.Owner, req.Source, len(vectors), len(pieces))
	}

	staged := &stagedDocument{
		document: &store.Document{
			ID:          docID,
			Owner:       req.Owner,
			Source:      req.Source,
			ContentHash: contentHash,
			Language:    language,
			ChunkCount:  len(pieces),
			IndexedAt:   time.Now().UTC(),
		},
		chunks:  make([]*store.ChunkRecord, len(pieces)),
		lexical: make([]store.LexicalEntry, len(pieces)),
		vectors: make([]store.VectorEntry, len(pieces)),
	}

	for i, piece := range pieces {
		id := ChunkID(req.Owner, req.Source, i, piece.Text)
		staged.chunks[i] = &store.ChunkRecord{
			ID:          id,
			DocumentID:  docID,
			Owner:       req.Owner,
			Source:      req.Source,
			Ordinal:     i,
			Text:        piece.Text,
			StartChar:   piece.StartChar,
			EndChar:     piece.EndChar,
			HeadingPath: piece.HeadingPath,
			TokenCount:  piece.TokenCount,
		}
		staged.lexical[i] = store.LexicalEntry{
			ID:     id,
			Source: req.Source,
			Terms:  ix.analyzer.Analyze(piece.Text),
		}
		staged.vectors[i] = store.VectorEntry{
			ID:     id,
			Source: req.Source,
			Vector: vectors[i],
		}
	}
	return staged, nil
}

// replace removes the prior version and writes the staged one. Both
// halves run under the document lock, so readers never see a partially
// replaced document from the metadata store's point of view.
func (ix *Indexer) replace(ctx context.Context, owner, docID string, existing *store.Document, staged *stagedDocument) error {
	pair, err := ix.indexes.Owner(owner)
	if err != nil {
		return err
	}

	if existing != nil {
		priorIDs, err := ix.metadata.ChunkIDsByDocument(ctx, docID)
		if err != nil {
			return fmt.Errorf("list prior chunks: %w", err)
		}
		if len(priorIDs) > 0 {
			if err := pair.Lexical.Delete(ctx, priorIDs); err != nil {
				return fmt.Errorf("delete prior lexical entries: %w", err)
			}
			if err := pair.Vector.Delete(ctx, priorIDs); err != nil {
				return fmt.Errorf("delete prior vectors: %w", err)
			}
		}
		if err := ix.metadata.DeleteDocument(ctx, docID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete prior document: %w", err)
		}
	}

	if err := ix.metadata.SaveDocument(ctx, staged.document); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	if err := ix.metadata.SaveChunks(ctx, staged.chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}
	if err := pair.Lexical.Add(ctx, staged.lexical); err != nil {
		return fmt.Errorf("add lexical entries: %w", err)
	}
	if err := pair.Vector.Add(ctx, staged.vectors); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	return nil
}

// Remove deletes a document and all of its chunks from every store.
// Removing a document that was never indexed returns store.ErrNotFound.
func (ix *Indexer) Remove(ctx context.Context, owner, source string) error {
	lock := ix.documentLock(owner, source)
	lock.Lock()
	defer lock.Unlock()

	doc, err := ix.metadata.GetDocument(ctx, owner, source)
	if err != nil {
		return err
	}

	chunkIDs, err := ix.metadata.ChunkIDsByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	if pair, ok := ix.indexes.Peek(owner); ok && len(chunkIDs) > 0 {
		if err := pair.Lexical.Delete(ctx, chunkIDs); err != nil {
			return fmt.Errorf("delete lexical entries: %w", err)
		}
		if err := pair.Vector.Delete(ctx, chunkIDs); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	}

	if err := ix.metadata.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	slog.Info("document removed",
		slog.String("owner", owner),
		slog.String("source", source),
		slog.Int("chunks", len(chunkIDs)))
	return nil
}

// Stats reports one owner's document and chunk counts.
func (ix *Indexer) Stats(ctx context.Context, owner string) (*Stats, error) {
	docs, err := ix.metadata.CountDocuments(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	chunks, err := ix.metadata.CountChunks(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	sources, err := ix.metadata.ListSources(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return &Stats{Documents: docs, Chunks: chunks, Sources: sources}, nil
}
