package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
)

type MemoryStorage struct {
	chats map[string]*model.Chat
	mu    sync.RWMutex
	now   func() time.Time
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		chats: make(map[string]*model.Chat),
		now:   time.Now,
	}
}

func (m *MemoryStorage) CreateChat(chat *model.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("%w: chat id is required", ErrInvalidData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.chats[chat.ID]; exists {
		return fmt.Errorf("%w: %s", ErrChatExists, chat.ID)
	}

	stored := chat.Clone()
	if stored.Messages == nil {
		stored.Messages = make([]model.Message, 0)
	}
	if stored.UpdatedAt.Before(stored.CreatedAt) {
		stored.UpdatedAt = stored.CreatedAt
	}
	m.chats[chat.ID] = stored
	return nil
}

func (m *MemoryStorage) GetChat(chatID string) (*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, exists := m.chats[chatID]
	if !exists {
		return nil, ErrChatNotFound
	}

	return chat.Clone(), nil
}

// ListChats returns chats newest first.
func (m *MemoryStorage) ListChats() ([]*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]*model.Chat, 0, len(m.chats))
	for _, chat := range m.chats {
		chats = append(chats, chat.Clone())
	}

	sort.Slice(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].ID > chats[j].ID
		}
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})

	return chats, nil
}

func (m *MemoryStorage) DeleteChat(chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.chats, chatID)
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chats = make(map[string]*model.Chat)
	return nil
}

func (m *MemoryStorage) AppendMessage(chatID string, msg model.Message) (*model.Chat, error) {
	if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
		return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidData, msg.Role)
	}
	if msg.Role == model.RoleAssistant && msg.Image != "" {
		return nil, fmt.Errorf("%w: assistant messages cannot carry images", ErrInvalidData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chat, exists := m.chats[chatID]
	if !exists {
		return nil, ErrChatNotFound
	}

	if len(chat.Messages) == 0 && msg.Role == model.RoleUser {
		chat.Title = model.TitleFrom(msg.Content)
	}

	chat.Messages = append(chat.Messages, msg)

	now := m.now()
	if now.Before(chat.CreatedAt) {
		now = chat.CreatedAt
	}
	chat.UpdatedAt = now

	return chat.Clone(), nil
}

func (m *MemoryStorage) PruneBefore(cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, chat := range m.chats {
		if chat.UpdatedAt.Before(cutoff) {
			delete(m.chats, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}
