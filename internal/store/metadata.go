package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteStore implements MetadataStore. Chunk text lives here, not in
// the retrieval indices; search results are enriched from this store,
// which makes it the source of truth during consistency checks.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	owner        TEXT NOT NULL,
	source       TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	chunk_count  INTEGER NOT NULL DEFAULT 0,
	indexed_at   TIMESTAMP NOT NULL,
	UNIQUE(owner, source)
);

CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	owner        TEXT NOT NULL,
	source       TEXT NOT NULL,
	ordinal      INTEGER NOT NULL,
	text         TEXT NOT NULL,
	start_char   INTEGER NOT NULL,
	end_char     INTEGER NOT NULL,
	heading_path TEXT NOT NULL DEFAULT '',
	token_count  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_owner ON chunks(owner);
`

// NewSQLiteStore opens (or creates) the metadata database. An empty
// path creates an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	// WAL allows concurrent readers during indexing writes.
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(metadataSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}
	return nil
}

// SaveDocument upserts a document by ID.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner, source, content_hash, language, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			language     = excluded.language,
			chunk_count  = excluded.chunk_count,
			indexed_at   = excluded.indexed_at`,
		doc.ID, doc.Owner, doc.Source, doc.ContentHash, doc.Language, doc.ChunkCount, doc.IndexedAt)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// GetDocument fetches one document, ErrNotFound when absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, owner, source string) (*Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, source, content_hash, language, chunk_count, indexed_at
		FROM documents WHERE owner = ? AND source = ?`, owner, source).
		Scan(&doc.ID, &doc.Owner, &doc.Source, &doc.ContentHash, &doc.Language, &doc.ChunkCount, &doc.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// DeleteDocument removes a document; its chunks cascade.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// ListSources returns the owner's indexed source names, sorted.
func (s *SQLiteStore) ListSources(ctx context.Context, owner string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source FROM documents WHERE owner = ? ORDER BY source`, owner)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// CountDocuments returns the owner's document count.
func (s *SQLiteStore) CountDocuments(ctx context.Context, owner string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE owner = ?`, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// SaveChunks inserts chunks in a single transaction.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*ChunkRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(id, document_id, owner, source, ordinal, text, start_char, end_char, heading_path, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Owner, c.Source, c.Ordinal, c.Text,
			c.StartChar, c.EndChar, c.HeadingPath, c.TokenCount); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunks fetches chunks by ID, in the order requested. Missing IDs
// are silently skipped; the caller decides whether that is an
// inconsistency.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*ChunkRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, owner, source, ordinal, text, start_char, end_char, heading_path, token_count
		FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*ChunkRecord, len(ids))
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Owner, &c.Source, &c.Ordinal, &c.Text,
			&c.StartChar, &c.EndChar, &c.HeadingPath, &c.TokenCount); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*ChunkRecord, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// ChunkIDsByDocument returns a document's chunk IDs in ordinal order.
func (s *SQLiteStore) ChunkIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("chunk ids by document: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllChunkIDs returns every chunk ID for an owner.
func (s *SQLiteStore) AllChunkIDs(ctx context.Context, owner string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE owner = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("all chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountChunks returns the owner's chunk count.
func (s *SQLiteStore) CountChunks(ctx context.Context, owner string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE owner = ?`, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// Close closes the database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
