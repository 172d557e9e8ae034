package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/completion"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/config"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/conversation"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/imageproc"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/storage"
	"github.com/IzzulGod/Sorachio-Chat-v2/pkg/logger"
)

// ErrNoChatSelected is returned by SendMessage when neither a chat id nor a selection exists.
var ErrNoChatSelected = errors.New("no chat selected")

type ChatService struct {
	storage storage.Storage
	orch    *Orchestrator
	config  *config.SessionConfig

	mu       sync.RWMutex
	selected string

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

type ChatServiceOptions struct {
	Store     storage.Storage
	Images    ImageProcessor
	Completer completion.Completer
	Notifier  Notifier

	// OnTransition is forwarded to the orchestrator.
	OnTransition func(chatID string, state State)
}

// NewChatService wires the send pipeline from cfg. A zero session TTL disables pruning.
func NewChatService(cfg *config.Config, opts ChatServiceOptions) *ChatService {
	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	images := opts.Images
	if images == nil {
		images = imageproc.New(imageproc.Options{
			MaxDimension:  cfg.Image.MaxDimension,
			Quality:       int(cfg.Image.Quality),
			MaxInputBytes: cfg.Image.MaxInputBytes,
		})
	}

	orch := NewOrchestrator(OrchestratorOptions{
		Store:     store,
		Images:    images,
		Assembler: conversation.NewAssembler(cfg.Agent.SystemPrompt),
		Completer: opts.Completer,
		Model: completion.ModelConfig{
			Model:       cfg.Client.Model,
			Temperature: cfg.Client.Temperature,
			MaxTokens:   cfg.Client.MaxTokens,
		},
		Notifier:       opts.Notifier,
		SerializeSends: cfg.Client.SerializeSends,
		OnTransition:   opts.OnTransition,
	})

	cs := &ChatService{
		storage: store,
		orch:    orch,
		config:  &cfg.Session,
		stop:    make(chan struct{}),
		now:     time.Now,
	}

	if cfg.Session.TTL > 0 && cfg.Session.CleanupInterval > 0 {
		go cs.cleanupOldChats()
	}

	return cs
}

// CreateChat stores an empty chat and selects it.
func (s *ChatService) CreateChat(title string) (*model.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultChatTitle
	}

	now := s.now()
	chat := &model.Chat{
		ID:        newID(),
		Title:     title,
		Messages:  make([]model.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.storage.CreateChat(chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	s.mu.Lock()
	s.selected = chat.ID
	s.mu.Unlock()

	logger.WithFields(logger.Fields{"chat_id": chat.ID}).Info("chat created")
	return chat, nil
}

func (s *ChatService) GetChat(chatID string) (*model.Chat, error) {
	chat, err := s.storage.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat %s: %w", chatID, err)
	}
	return chat, nil
}

func (s *ChatService) ListChats() ([]*model.Chat, error) {
	chats, err := s.storage.ListChats()
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// DeleteChat removes the chat and clears the selection if it pointed there.
// Deleting an unknown chat is not an error.
func (s *ChatService) DeleteChat(chatID string) error {
	if err := s.storage.DeleteChat(chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	s.mu.Lock()
	if s.selected == chatID {
		s.selected = ""
	}
	s.mu.Unlock()

	s.orch.Forget(chatID)
	return nil
}

func (s *ChatService) ClearChats() error {
	chats, err := s.storage.ListChats()
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}
	if err := s.storage.Clear(); err != nil {
		return fmt.Errorf("failed to clear chats: %w", err)
	}
	for _, chat := range chats {
		s.orch.Forget(chat.ID)
	}

	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
	return nil
}

// Select marks chatID as the current chat.
func (s *ChatService) Select(chatID string) error {
	if _, err := s.storage.GetChat(chatID); err != nil {
		return fmt.Errorf("failed to select chat %s: %w", chatID, err)
	}
	s.mu.Lock()
	s.selected = chatID
	s.mu.Unlock()
	return nil
}

func (s *ChatService) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// SendMessage sends to chatID, or to the selected chat when chatID is empty.
// Empty input is a no-op even without a selection.
func (s *ChatService) SendMessage(ctx context.Context, chatID, text string, image []byte) (*SendResult, error) {
	if strings.TrimSpace(text) == "" && len(image) == 0 {
		return s.orch.Send(ctx, SendInput{ChatID: chatID})
	}
	if chatID == "" {
		chatID = s.Selected()
	}
	if chatID == "" {
		return nil, ErrNoChatSelected
	}
	return s.orch.Send(ctx, SendInput{ChatID: chatID, Text: text, Image: image})
}

func (s *ChatService) IsLoading() bool {
	return s.orch.IsLoading()
}

// Close stops the cleanup loop.
func (s *ChatService) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *ChatService) cleanupOldChats() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *ChatService) pruneExpired() {
	removed, err := s.storage.PruneBefore(s.now().Add(-s.config.TTL))
	if err != nil {
		logger.Errorf("Failed to prune expired chats: %v", err)
		return
	}
	if len(removed) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range removed {
		if s.selected == id {
			s.selected = ""
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.orch.Forget(id)
	}
	logger.Infof("Cleaned up %d expired chats", len(removed))
}
