package port

import (
	"context"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

// ChatPlatform abstracts the messaging platform the messages are scraped from.
type ChatPlatform interface {
	// ListDialogs returns every dialog visible to the logged-in account.
	ListDialogs(ctx context.Context) ([]domain.Dialog, error)

	// FetchMessages returns up to limit messages of a chat, newest first.
	FetchMessages(ctx context.Context, chatID int64, limit int) ([]domain.Message, error)
}

// MessageStore is the relational store of scraped messages.
type MessageStore interface {
	// SaveMessages inserts messages, ignoring ids that already exist, and
	// returns how many rows were actually inserted.
	SaveMessages(ctx context.Context, messages []domain.Message) (int, error)

	// CountByChat returns message counts keyed by chat id.
	CountByChat(ctx context.Context) (map[int64]int, error)

	// ChatText returns the non-empty message texts of a chat, oldest first.
	ChatText(ctx context.Context, chatID int64) ([]string, error)

	// ChatStats returns the per-chat count and date range.
	ChatStats(ctx context.Context) ([]domain.ChatStats, error)
}
