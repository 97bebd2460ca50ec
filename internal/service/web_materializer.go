package service

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/arturoeanton/openipc-ragbot/internal/crawler"
	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

// SiteCrawler discovers pages and extracts their text.
type SiteCrawler interface {
	Discover(ctx context.Context, seeds []string) *crawler.Result
	FetchText(ctx context.Context, pageURL string) (string, error)
}

// WebMaterializer turns documentation seeds into one document per
// discovered page.
type WebMaterializer struct {
	crawler SiteCrawler
}

// NewWebMaterializer creates a web materializer.
func NewWebMaterializer(c SiteCrawler) *WebMaterializer {
	return &WebMaterializer{crawler: c}
}

// Kind implements port.Materializer.
func (m *WebMaterializer) Kind() domain.SourceKind { return domain.SourceKindWeb }

// Materialize discovers the union of pages reachable from all seeds, then
// fetches each page once. Dead ends and failed pages are skipped.
func (m *WebMaterializer) Materialize(ctx context.Context, sources []domain.Source, sink port.DocumentSink) error {
	if len(sources) == 0 {
		return nil
	}
	seeds := make([]string, len(sources))
	for i, s := range sources {
		seeds[i] = s.Location()
	}

	res := m.crawler.Discover(ctx, seeds)
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("discovery finished", "seeds", len(seeds), "pages", len(res.Pages), "dead_ends", len(res.DeadEnds))
	for _, u := range slices.Sorted(maps.Keys(res.DeadEnds)) {
		sink.Skip(domain.SourceKindWeb, u, errors.New(res.DeadEnds[u]))
	}

	for _, page := range res.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := m.crawler.FetchText(ctx, page)
		if err != nil {
			sink.Skip(domain.SourceKindWeb, page, err)
			continue
		}
		doc := domain.Document{Kind: domain.SourceKindWeb, Identity: page, Text: text}
		if err := sink.Accept(ctx, doc); err != nil {
			sink.Skip(domain.SourceKindWeb, page, err)
		}
	}

	for _, s := range sources {
		sink.SourceDone(s)
	}
	return nil
}
