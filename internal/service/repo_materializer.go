package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

// textFileSuffixes is the allow-list of repository files worth indexing.
var textFileSuffixes = []string{".c", ".h", ".py", "Makefile", ".md", ".txt"}

var errNotUTF8 = errors.New("file is not valid UTF-8 text")

// RepoMaterializer clones repositories into a scratch directory and emits
// their text files as documents.
type RepoMaterializer struct {
	cloner     port.Cloner
	scratchDir string
}

// NewRepoMaterializer creates a repository materializer.
func NewRepoMaterializer(cloner port.Cloner, scratchDir string) *RepoMaterializer {
	return &RepoMaterializer{cloner: cloner, scratchDir: scratchDir}
}

// Kind implements port.Materializer.
func (m *RepoMaterializer) Kind() domain.SourceKind { return domain.SourceKindRepository }

// Materialize clones each repository in turn. A failed clone skips that
// repository; an unreadable file skips that file.
func (m *RepoMaterializer) Materialize(ctx context.Context, sources []domain.Source, sink port.DocumentSink) error {
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.materializeRepo(ctx, src, sink); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sink.Skip(domain.SourceKindRepository, src.Identity(), err)
			continue
		}
		sink.SourceDone(src)
	}
	return nil
}

func (m *RepoMaterializer) materializeRepo(ctx context.Context, src domain.Source, sink port.DocumentSink) error {
	name := src.Identity()
	dest := filepath.Join(m.scratchDir, name)

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear stale checkout: %w", err)
	}
	if err := os.MkdirAll(m.scratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dest); err != nil {
			slog.Warn("could not remove checkout", "path", dest, "error", err)
		}
	}()

	slog.Info("cloning repository", "repo", name, "url", src.Location())
	if err := m.cloner.Clone(ctx, src.Location(), dest); err != nil {
		return err
	}

	files, err := m.cloner.ListFiles(ctx, dest)
	if err != nil {
		return err
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !isTextFile(rel) {
			continue
		}
		identity := name + "/" + filepath.ToSlash(rel)

		text, err := readText(filepath.Join(dest, rel))
		if err != nil {
			sink.Skip(domain.SourceKindRepository, identity, err)
			continue
		}

		doc := domain.Document{Kind: domain.SourceKindRepository, Identity: identity, Text: text}
		if err := sink.Accept(ctx, doc); err != nil {
			sink.Skip(domain.SourceKindRepository, identity, err)
		}
	}
	return nil
}

func isTextFile(rel string) bool {
	base := path.Base(filepath.ToSlash(rel))
	for _, suffix := range textFileSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

func readText(p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errNotUTF8
	}
	return string(data), nil
}
