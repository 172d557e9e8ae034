package model

import "time"

type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func Summarize(c *Chat) ChatSummary {
	return ChatSummary{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// Notification is the user-facing toast raised when a send fails.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant"`
	Kind        string `json:"kind"`
}

type SelectionResponse struct {
	SelectedChatID string `json:"selected_chat_id"`
	IsLoading      bool   `json:"is_loading"`
}
