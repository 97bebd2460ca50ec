package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

// Fixed fragments streamed instead of a model answer.
const (
	FragmentModelUnavailable = "Error: Local AI model not configured."
	FragmentIndexUnavailable = "Error: Knowledge base not available."
	FragmentStoreUnavailable = "Error: Message store not available."
	FragmentStreamFailed     = "Error communicating with the local AI model."
	FragmentNoResults        = "I'm sorry, I couldn't find any relevant information in my knowledge base to answer that question."
	FragmentEmptyChat        = "No messages have been saved for this chat yet. Scrape it first."
)

// DefaultRetrievalK is the number of chunks retrieved per question.
const DefaultRetrievalK = 7

const contextSeparator = "\n\n---\n\n"

// metaPhrases route a question to the statistics answer.
var metaPhrases = []string{
	"what do you know",
	"how many messages",
	"your knowledge",
	"what repos",
	"what sources",
}

const knowledgeSystemPrompt = `You are the OpenIPC community assistant. Answer the user's question using ONLY the context provided below. Do not use any external knowledge. If the context does not contain enough information to answer, say so clearly.`

const chatLogSystemPrompt = `You are a helpful AI assistant. Your knowledge is strictly limited to the contents of the chat log provided below. Answer the user's question based ONLY on this information. Do not use any external knowledge. If the answer is not in the chat log, state that clearly.`

const (
	knowledgePromptFormat = "--- CONTEXT ---\n%s\n--- END OF CONTEXT ---\n\nUser Question: %s"
	chatLogPromptFormat   = "--- CHAT LOG CONTEXT ---\n%s\n--- END OF CHAT LOG ---\n\nUser Question: %s"
)

// IsMetaQuery reports whether a question asks about the assistant's own
// knowledge rather than about the indexed content.
func IsMetaQuery(query string) bool {
	q := strings.ToLower(query)
	for _, phrase := range metaPhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return false
}

// Assembler answers questions by grounding the language model on retrieved
// context and streaming its reply.
type Assembler struct {
	catalog  *SourceCatalog
	index    port.KnowledgeIndex
	llm      port.LLMProvider
	messages port.MessageStore
	k        int
	pacing   time.Duration
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithRetrievalK sets how many chunks are retrieved.
func WithRetrievalK(k int) AssemblerOption {
	return func(a *Assembler) {
		if k > 0 {
			a.k = k
		}
	}
}

// WithPacing sets the delay between forwarded fragments.
func WithPacing(d time.Duration) AssemblerOption {
	return func(a *Assembler) { a.pacing = d }
}

// NewAssembler creates an assembler. index, llm and messages may be nil; the
// affected answers then degrade to a fixed fragment.
func NewAssembler(catalog *SourceCatalog, index port.KnowledgeIndex, llm port.LLMProvider, messages port.MessageStore, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		catalog:  catalog,
		index:    index,
		llm:      llm,
		messages: messages,
		k:        DefaultRetrievalK,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer streams the reply to a question. The channel is always closed, and
// failures arrive as a final text fragment. Cancelling ctx stops the stream.
func (a *Assembler) Answer(ctx context.Context, query string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		a.answer(ctx, query, out)
	}()
	return out
}

func (a *Assembler) answer(ctx context.Context, query string, out chan<- string) {
	if a.llm == nil {
		emit(ctx, out, FragmentModelUnavailable)
		return
	}

	if IsMetaQuery(query) {
		slog.Info("answering meta query", "query", query)
		a.stream(ctx, out, knowledgeSystemPrompt, fmt.Sprintf(knowledgePromptFormat, a.metaContext(ctx), query))
		return
	}

	if a.index == nil {
		emit(ctx, out, FragmentIndexUnavailable)
		return
	}
	hits, err := a.index.Query(ctx, query, a.k)
	if err != nil {
		slog.Error("knowledge query failed", "error", err)
		emit(ctx, out, FragmentIndexUnavailable)
		return
	}
	if len(hits) == 0 {
		emit(ctx, out, FragmentNoResults)
		return
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	slog.Info("answering from knowledge base", "query", query, "hits", len(hits))
	a.stream(ctx, out, knowledgeSystemPrompt, fmt.Sprintf(knowledgePromptFormat, strings.Join(texts, contextSeparator), query))
}

// AnswerFromChat streams a reply grounded on the persisted log of one chat.
func (a *Assembler) AnswerFromChat(ctx context.Context, chatID int64, query string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		if a.llm == nil {
			emit(ctx, out, FragmentModelUnavailable)
			return
		}
		if a.messages == nil {
			emit(ctx, out, FragmentStoreUnavailable)
			return
		}
		texts, err := a.messages.ChatText(ctx, chatID)
		if err != nil {
			slog.Error("read chat log failed", "chat_id", chatID, "error", err)
			emit(ctx, out, FragmentStoreUnavailable)
			return
		}
		if len(texts) == 0 {
			emit(ctx, out, FragmentEmptyChat)
			return
		}
		slog.Info("answering from chat log", "chat_id", chatID, "messages", len(texts))
		a.stream(ctx, out, chatLogSystemPrompt, fmt.Sprintf(chatLogPromptFormat, strings.Join(texts, "\n"), query))
	}()
	return out
}

func (a *Assembler) stream(ctx context.Context, out chan<- string, systemPrompt, userPrompt string) {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: userPrompt},
	}

	events, err := a.llm.ChatStream(ctx, messages)
	if err != nil {
		slog.Error("model stream failed", "model", a.llm.ModelName(), "error", err)
		emit(ctx, out, FragmentStreamFailed)
		return
	}

	for ev := range events {
		if ev.Err != nil {
			slog.Error("model stream interrupted", "model", a.llm.ModelName(), "error", ev.Err)
			emit(ctx, out, FragmentStreamFailed)
			return
		}
		if !emit(ctx, out, ev.Content) {
			return
		}
		if a.pacing > 0 {
			select {
			case <-time.After(a.pacing):
			case <-ctx.Done():
				return
			}
		}
	}
}

// metaContext describes the configured sources and live statistics.
func (a *Assembler) metaContext(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("Configured knowledge sources:\n")
	for _, kind := range kindOrder {
		for _, s := range a.catalog.ByKind(kind) {
			fmt.Fprintf(&sb, "- %s: %s\n", kindLabel(kind), s.Location())
		}
	}

	sb.WriteString("\nKnowledge base: ")
	if a.index == nil {
		sb.WriteString("not available\n")
	} else if n, err := a.index.Count(ctx); err != nil {
		slog.Warn("count records failed", "error", err)
		sb.WriteString("record count unavailable\n")
	} else {
		fmt.Fprintf(&sb, "%d indexed text chunks\n", n)
	}

	sb.WriteString("\nSaved chat messages:\n")
	if a.messages == nil {
		sb.WriteString("- message store not available\n")
		return sb.String()
	}
	stats, err := a.messages.ChatStats(ctx)
	if err != nil {
		slog.Warn("chat stats failed", "error", err)
		sb.WriteString("- statistics unavailable\n")
		return sb.String()
	}
	if len(stats) == 0 {
		sb.WriteString("- none yet\n")
	}
	for _, st := range stats {
		fmt.Fprintf(&sb, "- chat %d: %d messages from %s to %s\n",
			st.ChatID, st.Count, st.FirstDate.Format("2006-01-02"), st.LastDate.Format("2006-01-02"))
	}
	return sb.String()
}

func kindLabel(kind domain.SourceKind) string {
	switch kind {
	case domain.SourceKindRepository:
		return "GitHub repository"
	case domain.SourceKindWeb:
		return "Documentation site"
	case domain.SourceKindChat:
		return "Telegram chat"
	}
	return string(kind)
}

func emit(ctx context.Context, out chan<- string, s string) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
