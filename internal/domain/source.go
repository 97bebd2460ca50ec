package domain

import (
	"net/url"
	"path"
	"strconv"
	"strings"
)

// SourceKind tags where a piece of knowledge came from. The tag is the
// first segment of every VectorRecord ID.
type SourceKind string

// Source kind constants.
const (
	SourceKindRepository SourceKind = "github"
	SourceKindWeb        SourceKind = "docs"
	SourceKindChat       SourceKind = "telegram"
)

// Source is one configured knowledge source. The set of variants is closed:
// RepositorySource, WebSource and ChatSource.
type Source interface {
	Kind() SourceKind
	// Identity is the stable, human-readable name of the source.
	Identity() string
	// Location is the URL or name the source was configured with.
	Location() string
}

// RepositorySource is a remote git repository.
type RepositorySource struct {
	URL string `json:"url"`
}

func (s RepositorySource) Kind() SourceKind { return SourceKindRepository }
func (s RepositorySource) Location() string { return s.URL }

// Identity returns the short repository name: the last path segment with any
// .git suffix stripped.
func (s RepositorySource) Identity() string {
	return RepoName(s.URL)
}

// WebSource is the seed URL of a documentation site.
type WebSource struct {
	SeedURL string `json:"seed_url"`
}

func (s WebSource) Kind() SourceKind { return SourceKindWeb }
func (s WebSource) Identity() string { return s.SeedURL }
func (s WebSource) Location() string { return s.SeedURL }

// ChatSource is a named chat or channel whose messages are persisted in the
// message store. ChatID is zero until the chat has been resolved against the
// chat platform's dialog list.
type ChatSource struct {
	Name   string `json:"name"`
	ChatID int64  `json:"chat_id,omitempty"`
}

func (s ChatSource) Kind() SourceKind { return SourceKindChat }
func (s ChatSource) Location() string { return s.Name }

// Identity is the chat id when known, otherwise the chat name.
func (s ChatSource) Identity() string {
	if s.ChatID != 0 {
		return strconv.FormatInt(s.ChatID, 10)
	}
	return s.Name
}

// RepoName derives the short name of a repository from its URL.
func RepoName(repoURL string) string {
	p := repoURL
	if u, err := url.Parse(repoURL); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(strings.TrimRight(p, "/"))
	return strings.TrimSuffix(name, ".git")
}

// SourceDescriptor is the JSON shape of a configured source.
type SourceDescriptor struct {
	Kind     SourceKind `json:"kind"`
	Identity string     `json:"identity"`
	Location string     `json:"location"`
}

// Describe converts a Source into its descriptor.
func Describe(s Source) SourceDescriptor {
	return SourceDescriptor{Kind: s.Kind(), Identity: s.Identity(), Location: s.Location()}
}
