package port

import (
	"context"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

// KnowledgeIndex is a content-addressed vector store. Embeddings are owned by
// the implementation.
type KnowledgeIndex interface {
	// Upsert writes records by id: an existing record with the same id is
	// replaced, otherwise a new one is created.
	Upsert(ctx context.Context, records []domain.VectorRecord) error

	// Query returns at most k nearest neighbours of text, most relevant first.
	// An empty index yields an empty slice and no error.
	Query(ctx context.Context, text string, k int) ([]domain.ScoredText, error)

	// Count returns the number of records currently stored.
	Count(ctx context.Context) (int, error)
}
