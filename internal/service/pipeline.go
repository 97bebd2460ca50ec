package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arturoeanton/openipc-ragbot/internal/chunker"
	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

// kindOrder is the order in which source kinds are ingested.
var kindOrder = []domain.SourceKind{
	domain.SourceKindRepository,
	domain.SourceKindWeb,
	domain.SourceKindChat,
}

// Progress is reported after every document or skipped item of a run.
type Progress struct {
	Kind        domain.SourceKind `json:"kind"`
	Identity    string            `json:"identity"`
	Skipped     bool              `json:"skipped"`
	ItemsDone   int               `json:"items_done"`
	ChunksAdded int               `json:"chunks_added"`
}

// ProgressFunc receives progress updates. It must not block.
type ProgressFunc func(Progress)

// Pipeline ingests every configured source into the knowledge index.
type Pipeline struct {
	index         port.KnowledgeIndex
	chunker       *chunker.Chunker
	catalog       *SourceCatalog
	materializers map[domain.SourceKind]port.Materializer
}

// NewPipeline creates a pipeline. Only kinds with a materializer are ingested.
func NewPipeline(index port.KnowledgeIndex, ch *chunker.Chunker, catalog *SourceCatalog, materializers ...port.Materializer) *Pipeline {
	byKind := make(map[domain.SourceKind]port.Materializer, len(materializers))
	for _, m := range materializers {
		byKind[m.Kind()] = m
	}
	return &Pipeline{index: index, chunker: ch, catalog: catalog, materializers: byKind}
}

// Run performs one ingestion pass. Item failures are recorded in the
// returned run; an error is returned only when the index cannot be read or
// the context is cancelled.
func (p *Pipeline) Run(ctx context.Context, progress ProgressFunc) (*domain.IngestionRun, error) {
	if p.index == nil {
		return nil, port.ErrIndexUnavailable
	}

	run := &domain.IngestionRun{StartedAt: time.Now(), Skipped: []domain.SkipRecord{}}
	before, err := p.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: count before run: %v", port.ErrIndexUnavailable, err)
	}
	run.CountBefore = before
	slog.Info("ingestion started", "records", before)

	sink := &runSink{pipeline: p, run: run, progress: progress}
	for _, kind := range kindOrder {
		m, ok := p.materializers[kind]
		if !ok {
			continue
		}
		sources := p.catalog.ByKind(kind)
		if len(sources) == 0 {
			continue
		}
		slog.Info("ingesting sources", "kind", kind, "count", len(sources))
		if err := m.Materialize(ctx, sources, sink); err != nil {
			run.Duration = time.Since(run.StartedAt)
			return run, fmt.Errorf("ingest %s: %w", kind, err)
		}
	}

	after, err := p.index.Count(ctx)
	if err != nil {
		run.Duration = time.Since(run.StartedAt)
		return run, fmt.Errorf("%w: count after run: %v", port.ErrIndexUnavailable, err)
	}
	run.CountAfter = after
	run.Duration = time.Since(run.StartedAt)

	slog.Info("ingestion complete",
		"repos", run.ReposProcessed,
		"files", run.FilesProcessed,
		"pages", run.PagesProcessed,
		"chats", run.ChatsProcessed,
		"chunks", run.ChunksAdded,
		"skipped", run.Failures(),
		"records_before", run.CountBefore,
		"records_after", run.CountAfter,
		"duration", run.Duration,
	)
	return run, nil
}

// runSink chunks and upserts documents on behalf of one run.
type runSink struct {
	pipeline *Pipeline
	progress ProgressFunc

	mu        sync.Mutex
	run       *domain.IngestionRun
	itemsDone int
}

func (s *runSink) Accept(ctx context.Context, doc domain.Document) error {
	chunks := s.pipeline.chunker.Split(doc.Identity, doc.Text)
	records := domain.RecordsFor(doc, chunks)
	if len(records) > 0 {
		if err := s.pipeline.index.Upsert(ctx, records); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}
	slog.Debug("document ingested", "kind", doc.Kind, "identity", doc.Identity, "chunks", len(records))

	s.mu.Lock()
	switch doc.Kind {
	case domain.SourceKindRepository:
		s.run.FilesProcessed++
	case domain.SourceKindWeb:
		s.run.PagesProcessed++
	case domain.SourceKindChat:
		s.run.ChatsProcessed++
	}
	s.run.ChunksAdded += len(records)
	s.itemsDone++
	p := Progress{Kind: doc.Kind, Identity: doc.Identity, ItemsDone: s.itemsDone, ChunksAdded: s.run.ChunksAdded}
	s.mu.Unlock()

	s.report(p)
	return nil
}

func (s *runSink) Skip(kind domain.SourceKind, identity string, err error) {
	s.mu.Lock()
	s.run.Skip(kind, identity, err)
	s.itemsDone++
	p := Progress{Kind: kind, Identity: identity, Skipped: true, ItemsDone: s.itemsDone, ChunksAdded: s.run.ChunksAdded}
	s.mu.Unlock()

	slog.Warn("item skipped", "kind", kind, "identity", identity, "error", err)
	s.report(p)
}

func (s *runSink) SourceDone(src domain.Source) {
	if src.Kind() != domain.SourceKindRepository {
		return
	}
	s.mu.Lock()
	s.run.ReposProcessed++
	s.mu.Unlock()
}

func (s *runSink) report(p Progress) {
	if s.progress != nil {
		s.progress(p)
	}
}
