package storage

import (
	"time"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
)

// Storage holds conversations. Returned chats are copies; mutating them does
// not affect the store.
type Storage interface {
	CreateChat(chat *model.Chat) error
	GetChat(chatID string) (*model.Chat, error)
	ListChats() ([]*model.Chat, error)
	// DeleteChat is idempotent: deleting an unknown id returns nil.
	DeleteChat(chatID string) error
	Clear() error

	// AppendMessage adds msg to the end of the chat, bumps UpdatedAt and
	// derives the title from the first user message.
	AppendMessage(chatID string, msg model.Message) (*model.Chat, error)

	// PruneBefore removes chats last updated before cutoff and returns their ids.
	PruneBefore(cutoff time.Time) ([]string, error)
}
