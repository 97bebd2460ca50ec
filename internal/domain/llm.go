package domain

// Chat roles understood by the language-model collaborators.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one message of a chat-completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamEvent carries either a content fragment or a terminal error from a
// streamed completion.
type StreamEvent struct {
	Content string
	Err     error
}
