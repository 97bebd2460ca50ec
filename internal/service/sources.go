package service

import (
	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

// SourceCatalog is the static list of knowledge sources, loaded once at
// startup. It feeds both ingestion and the meta answers.
type SourceCatalog struct {
	repos []domain.Source
	docs  []domain.Source
	chats []domain.Source
}

// NewSourceCatalog builds the catalog from documentation seed URLs,
// repository URLs and target chat names.
func NewSourceCatalog(docURLs, repoURLs, chatNames []string) *SourceCatalog {
	c := &SourceCatalog{}
	for _, u := range repoURLs {
		c.repos = append(c.repos, domain.RepositorySource{URL: u})
	}
	for _, u := range docURLs {
		c.docs = append(c.docs, domain.WebSource{SeedURL: u})
	}
	for _, n := range chatNames {
		c.chats = append(c.chats, domain.ChatSource{Name: n})
	}
	return c
}

// ByKind returns the sources of one kind in configuration order.
func (c *SourceCatalog) ByKind(kind domain.SourceKind) []domain.Source {
	switch kind {
	case domain.SourceKindRepository:
		return c.repos
	case domain.SourceKindWeb:
		return c.docs
	case domain.SourceKindChat:
		return c.chats
	}
	return nil
}

// Sources returns every source: repositories, then documentation, then chats.
func (c *SourceCatalog) Sources() []domain.Source {
	out := make([]domain.Source, 0, len(c.repos)+len(c.docs)+len(c.chats))
	out = append(out, c.repos...)
	out = append(out, c.docs...)
	out = append(out, c.chats...)
	return out
}

// Descriptors returns the serializable view of Sources.
func (c *SourceCatalog) Descriptors() []domain.SourceDescriptor {
	sources := c.Sources()
	out := make([]domain.SourceDescriptor, len(sources))
	for i, s := range sources {
		out[i] = domain.Describe(s)
	}
	return out
}

// ChatNames returns the configured target chat names.
func (c *SourceCatalog) ChatNames() []string {
	names := make([]string, len(c.chats))
	for i, s := range c.chats {
		names[i] = s.Location()
	}
	return names
}
