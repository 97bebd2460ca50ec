package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

// DefaultScrapeLimit is used when a scrape asks for no explicit limit.
const DefaultScrapeLimit = 100

// ChatService lists target chats and scrapes their messages into the store.
type ChatService struct {
	platform port.ChatPlatform
	messages port.MessageStore
	targets  map[string]bool
}

// NewChatService creates a chat service. An empty target list shows every dialog.
func NewChatService(platform port.ChatPlatform, messages port.MessageStore, targets []string) *ChatService {
	t := make(map[string]bool, len(targets))
	for _, name := range targets {
		t[name] = true
	}
	return &ChatService{platform: platform, messages: messages, targets: t}
}

// ListChats returns the target dialogs with their persisted message counts.
func (s *ChatService) ListChats(ctx context.Context) ([]domain.ChatSummary, error) {
	if s.platform == nil {
		return nil, port.ErrChatPlatformUnavailable
	}
	dialogs, err := s.platform.ListDialogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}

	counts := map[int64]int{}
	if s.messages != nil {
		if counts, err = s.messages.CountByChat(ctx); err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
	}

	out := make([]domain.ChatSummary, 0, len(dialogs))
	for _, d := range dialogs {
		if len(s.targets) > 0 && !s.targets[d.Name] {
			continue
		}
		out = append(out, domain.ChatSummary{Dialog: d, MessageCount: counts[d.ID]})
	}
	return out, nil
}

// Scrape pulls up to limit messages of a chat and stores the new ones.
// Fetch and save failures are reported in the result; an error is returned
// only when a collaborator is not configured.
func (s *ChatService) Scrape(ctx context.Context, chatID int64, limit int) (*domain.ScrapeResult, error) {
	if s.platform == nil {
		return nil, port.ErrChatPlatformUnavailable
	}
	if s.messages == nil {
		return nil, port.ErrMessageStoreUnavailable
	}
	if limit <= 0 {
		limit = DefaultScrapeLimit
	}

	slog.Info("scraping chat", "chat_id", chatID, "limit", limit)
	msgs, err := s.platform.FetchMessages(ctx, chatID, limit)
	if err != nil {
		slog.Error("scrape failed", "chat_id", chatID, "error", err)
		return &domain.ScrapeResult{Status: domain.ScrapeStatusError, Detail: err.Error()}, nil
	}

	saved, err := s.messages.SaveMessages(ctx, msgs)
	if err != nil {
		slog.Error("save messages failed", "chat_id", chatID, "error", err)
		return &domain.ScrapeResult{Status: domain.ScrapeStatusError, MessagesFetched: len(msgs), Detail: err.Error()}, nil
	}

	slog.Info("scrape finished", "chat_id", chatID, "fetched", len(msgs), "saved", saved)
	return &domain.ScrapeResult{Status: domain.ScrapeStatusSuccess, MessagesFetched: len(msgs), MessagesSaved: saved}, nil
}
