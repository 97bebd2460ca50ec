package domain

import "time"

// Dialog is a chat visible to the chat-platform account.
type Dialog struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Type     string `json:"type"` // Channel, Chat or User
}

// Message is one persisted chat message. Text and Media are optional.
type Message struct {
	ID       int64     `json:"id"        db:"id"`
	ChatID   int64     `json:"chat_id"   db:"chat_id"`
	SenderID int64     `json:"sender_id" db:"sender_id"`
	Date     time.Time `json:"date"      db:"date"`
	Text     *string   `json:"text"      db:"text"`
	Media    *string   `json:"media"     db:"media"`
}

// ChatStats is the per-chat aggregate kept by the message store.
type ChatStats struct {
	ChatID    int64     `json:"chat_id"`
	Count     int       `json:"count"`
	FirstDate time.Time `json:"first_date"`
	LastDate  time.Time `json:"last_date"`
}

// ChatSummary is a dialog joined with its persisted message count.
type ChatSummary struct {
	Dialog
	MessageCount int `json:"message_count"`
}

// ScrapeResult is returned by a scrape of one chat.
type ScrapeResult struct {
	Status          string `json:"status"` // success or error
	MessagesFetched int    `json:"messages_fetched"`
	MessagesSaved   int    `json:"messages_saved"`
	Detail          string `json:"detail,omitempty"`
}

// Scrape status constants.
const (
	ScrapeStatusSuccess = "success"
	ScrapeStatusError   = "error"
)
