package port

import (
	"context"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
)

// LLMProvider abstracts the language-model backend used to answer questions.
// Implementations can target Ollama or any OpenAI-compatible API.
type LLMProvider interface {
	// ModelName returns the identifier of the model being used.
	ModelName() string

	// ChatStream sends the messages and streams the response fragment by
	// fragment. The channel is closed when the stream ends; a failure after
	// the request was accepted arrives as a final event with Err set.
	ChatStream(ctx context.Context, messages []domain.ChatMessage) (<-chan domain.StreamEvent, error)
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
