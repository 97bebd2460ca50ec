package port

import (
	"context"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

// DocumentSink receives the output of a Materializer.
type DocumentSink interface {
	// Accept consumes one materialized document.
	Accept(ctx context.Context, doc domain.Document) error

	// Skip records an item that could not be materialized.
	Skip(kind domain.SourceKind, identity string, err error)

	// SourceDone marks a configured source as fully processed.
	SourceDone(src domain.Source)
}

// Materializer turns configured sources of one kind into documents.
// Failures of single items go to sink.Skip; only a cancelled context is
// returned as an error.
type Materializer interface {
	Kind() domain.SourceKind
	Materialize(ctx context.Context, sources []domain.Source, sink DocumentSink) error
}
