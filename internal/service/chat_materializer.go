package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

var errNoMessages = errors.New("no persisted messages")

// ChatMaterializer turns the persisted history of each target chat into one
// document. Chat names are resolved to ids through the chat platform.
type ChatMaterializer struct {
	messages port.MessageStore
	platform port.ChatPlatform
}

// NewChatMaterializer creates a chat materializer. platform may be nil when
// every source already carries a chat id.
func NewChatMaterializer(messages port.MessageStore, platform port.ChatPlatform) *ChatMaterializer {
	return &ChatMaterializer{messages: messages, platform: platform}
}

// Kind implements port.Materializer.
func (m *ChatMaterializer) Kind() domain.SourceKind { return domain.SourceKindChat }

// Materialize joins each chat's message texts in date order.
func (m *ChatMaterializer) Materialize(ctx context.Context, sources []domain.Source, sink port.DocumentSink) error {
	var dialogs []domain.Dialog
	var dialogsErr error
	dialogsLoaded := false

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		chat, ok := src.(domain.ChatSource)
		if !ok {
			sink.Skip(domain.SourceKindChat, src.Identity(), fmt.Errorf("unexpected source %T", src))
			continue
		}
		if m.messages == nil {
			sink.Skip(domain.SourceKindChat, chat.Identity(), port.ErrMessageStoreUnavailable)
			continue
		}

		if chat.ChatID == 0 {
			if !dialogsLoaded {
				dialogs, dialogsErr = m.listDialogs(ctx)
				dialogsLoaded = true
			}
			if dialogsErr != nil {
				sink.Skip(domain.SourceKindChat, chat.Name, dialogsErr)
				continue
			}
			id, found := findDialog(dialogs, chat.Name)
			if !found {
				sink.Skip(domain.SourceKindChat, chat.Name, fmt.Errorf("%w: %s", port.ErrChatNotFound, chat.Name))
				continue
			}
			chat.ChatID = id
		}

		texts, err := m.messages.ChatText(ctx, chat.ChatID)
		if err != nil {
			sink.Skip(domain.SourceKindChat, chat.Identity(), err)
			continue
		}
		if len(texts) == 0 {
			sink.Skip(domain.SourceKindChat, chat.Identity(), errNoMessages)
			continue
		}

		doc := domain.Document{
			Kind:     domain.SourceKindChat,
			Identity: strconv.FormatInt(chat.ChatID, 10),
			Text:     strings.Join(texts, "\n"),
		}
		if err := sink.Accept(ctx, doc); err != nil {
			sink.Skip(domain.SourceKindChat, chat.Identity(), err)
			continue
		}
		sink.SourceDone(chat)
	}
	return nil
}

func (m *ChatMaterializer) listDialogs(ctx context.Context) ([]domain.Dialog, error) {
	if m.platform == nil {
		return nil, port.ErrChatPlatformUnavailable
	}
	return m.platform.ListDialogs(ctx)
}

func findDialog(dialogs []domain.Dialog, name string) (int64, bool) {
	for _, d := range dialogs {
		if d.Name == name {
			return d.ID, true
		}
	}
	return 0, false
}
