package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/openipc-ragbot/internal/adapter/ai"
	"github.com/arturoeanton/openipc-ragbot/internal/adapter/store"
	"github.com/arturoeanton/openipc-ragbot/internal/adapter/telegram"
	"github.com/arturoeanton/openipc-ragbot/internal/adapter/vcs"
	"github.com/arturoeanton/openipc-ragbot/internal/chunker"
	"github.com/arturoeanton/openipc-ragbot/internal/crawler"
	"github.com/arturoeanton/openipc-ragbot/internal/handler"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
	"github.com/arturoeanton/openipc-ragbot/internal/service"
	"github.com/arturoeanton/openipc-ragbot/pkg/config"
)

// components holds the collaborators built from configuration. Any of index,
// llm, messages and platform may be nil when unavailable.
type components struct {
	catalog  *service.SourceCatalog
	index    port.KnowledgeIndex
	llm      port.LLMProvider
	messages port.MessageStore
	platform port.ChatPlatform
	checks   map[string]handler.HealthCheck
	closers  []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

// buildComponents connects every backend. Failures are logged and leave the
// collaborator nil so callers can degrade.
func buildComponents(ctx context.Context, cfg *config.Config) *components {
	c := &components{
		catalog: service.NewSourceCatalog(cfg.DocsURLs, cfg.GitHubRepos, cfg.TargetChats),
		checks:  map[string]handler.HealthCheck{"index": nil, "model": nil, "message_store": nil, "chat_platform": nil},
	}

	ollama := ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{BaseURL: cfg.OllamaEmbedURL, Model: cfg.OllamaEmbedModel, Token: cfg.OllamaEmbedToken},
		ai.OllamaEndpointConfig{BaseURL: cfg.OllamaChatURL, Model: cfg.OllamaChatModel, Token: cfg.OllamaChatToken},
	)

	switch cfg.LLMProvider {
	case "openai":
		p := ai.NewOpenAIProvider(ai.OpenAIConfig{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel})
		c.llm = p
		c.checks["model"] = p.Ping
	case "ollama":
		c.llm = ollama
		c.checks["model"] = ollama.Ping
	default:
		slog.Error("unknown LLM provider, answers are disabled", "provider", cfg.LLMProvider)
	}

	if err := c.connectIndex(ctx, cfg, ollama); err != nil {
		slog.Error("knowledge index unavailable", "backend", cfg.IndexBackend, "error", err)
	}

	messages, err := store.OpenMessageStore(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		slog.Error("message store unavailable", "driver", cfg.DatabaseDriver, "error", err)
	} else {
		c.messages = messages
		c.checks["message_store"] = messages.Ping
		c.closers = append(c.closers, messages.Close)
	}

	if cfg.TelegramConfigured() {
		tg := telegram.New(telegramConfig(cfg))
		c.platform = tg
		c.checks["chat_platform"] = func(ctx context.Context) error {
			_, err := tg.ListDialogs(ctx)
			return err
		}
		c.closers = append(c.closers, tg.Close)
	} else {
		slog.Warn("telegram credentials missing, chat features are disabled")
	}

	return c
}

func (c *components) connectIndex(ctx context.Context, cfg *config.Config, embedder port.Embedder) error {
	switch cfg.IndexBackend {
	case "weaviate":
		idx, err := store.NewWeaviateIndex(ctx, store.WeaviateConfig{
			URL:        cfg.WeaviateURL,
			APIKey:     cfg.WeaviateAPIKey,
			Class:      cfg.WeaviateClass,
			Vectorizer: cfg.WeaviateVectorizer,
			EmbedURL:   cfg.OllamaEmbedURL,
			EmbedModel: cfg.OllamaEmbedModel,
		})
		if err != nil {
			return err
		}
		c.index = idx
		c.checks["index"] = idx.Ping
	case "pgvector":
		idx, err := store.OpenPgVectorIndex(ctx, cfg.DatabaseURL, embedder, cfg.EmbeddingDimension)
		if err != nil {
			return err
		}
		c.index = idx
		c.checks["index"] = countCheck(idx)
		c.closers = append(c.closers, idx.Close)
	case "memory":
		slog.Warn("using in-memory knowledge index, contents are lost on exit")
		idx := store.NewMemoryIndex()
		c.index = idx
		c.checks["index"] = countCheck(idx)
	default:
		return fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
	return nil
}

func countCheck(idx port.KnowledgeIndex) handler.HealthCheck {
	return func(ctx context.Context) error {
		_, err := idx.Count(ctx)
		return err
	}
}

func telegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{AppID: cfg.TelegramAPIID, AppHash: cfg.TelegramAPIHash, SessionPath: cfg.TelegramSession}
}

// pipeline assembles the ingestion pipeline over the connected collaborators.
func (c *components) pipeline(cfg *config.Config) (*service.Pipeline, error) {
	if c.index == nil {
		return nil, port.ErrIndexUnavailable
	}
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	materializers := []port.Materializer{
		service.NewRepoMaterializer(vcs.NewGitCloner(), cfg.ScratchDir),
		service.NewWebMaterializer(crawler.New(
			crawler.WithTimeout(cfg.CrawlTimeout),
			crawler.WithRateLimit(cfg.CrawlRatePerSec),
		)),
	}
	if cfg.IngestChatHistory {
		materializers = append(materializers, service.NewChatMaterializer(c.messages, c.platform))
	}
	return service.NewPipeline(c.index, ch, c.catalog, materializers...), nil
}

func (c *components) assembler(cfg *config.Config) *service.Assembler {
	return service.NewAssembler(c.catalog, c.index, c.llm, c.messages,
		service.WithRetrievalK(cfg.RetrievalK),
		service.WithPacing(cfg.StreamPacing),
	)
}

func (c *components) chatService(targets []string) *service.ChatService {
	return service.NewChatService(c.platform, c.messages, targets)
}

var errNoChatPlatform = errors.New("telegram credentials missing: set TELEGRAM_API_ID and TELEGRAM_API_HASH")
