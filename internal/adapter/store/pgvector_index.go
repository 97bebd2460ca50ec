package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

// upsertBatchSize bounds how many texts are embedded per request.
const upsertBatchSize = 64

// PgVectorIndex is a knowledge index stored in Postgres with the pgvector
// extension. Embeddings are computed with the configured Embedder.
type PgVectorIndex struct {
	db        *sql.DB
	embedder  port.Embedder
	dimension int
}

// OpenPgVectorIndex connects to Postgres and creates the vector table if needed.
func OpenPgVectorIndex(ctx context.Context, databaseURL string, embedder port.Embedder, dimension int) (*PgVectorIndex, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	idx := NewPgVectorIndex(db, embedder, dimension)
	if err := idx.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// NewPgVectorIndex wraps an existing connection.
func NewPgVectorIndex(db *sql.DB, embedder port.Embedder, dimension int) *PgVectorIndex {
	return &PgVectorIndex{db: db, embedder: embedder, dimension: dimension}
}

// EnsureSchema creates the extension and table.
func (v *PgVectorIndex) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_vectors (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, v.dimension),
	}
	for _, s := range stmts {
		if _, err := v.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (v *PgVectorIndex) Close() error {
	return v.db.Close()
}

// Upsert embeds and writes records, replacing rows with the same id.
func (v *PgVectorIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := v.upsertBatch(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (v *PgVectorIndex) upsertBatch(ctx context.Context, batch []domain.VectorRecord) error {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.Text
	}
	vectors, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embed: %v", port.ErrIndexUnavailable, err)
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO knowledge_vectors (id, content, embedding)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, r := range batch {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Text, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert vector %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Query performs a cosine similarity search.
func (v *PgVectorIndex) Query(ctx context.Context, text string, k int) ([]domain.ScoredText, error) {
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", port.ErrIndexUnavailable, err)
	}

	rows, err := v.db.QueryContext(ctx,
		`SELECT id, content, 1 - (embedding <=> $1) AS similarity
		 FROM knowledge_vectors
		 ORDER BY embedding <=> $1
		 LIMIT $2`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	results := []domain.ScoredText{}
	for rows.Next() {
		var st domain.ScoredText
		if err := rows.Scan(&st.ID, &st.Text, &st.Score); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

// Count returns the number of stored vectors.
func (v *PgVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}
