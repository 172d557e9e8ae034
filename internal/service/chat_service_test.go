package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/config"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Client: config.ClientConfig{Model: "test-model", Temperature: 0.7, MaxTokens: 2000},
		Image:  config.ImageConfig{MaxDimension: 900, Quality: 70, MaxInputBytes: 1 << 20},
		Agent:  config.AgentConfig{SystemPrompt: "be nice"},
	}
}

func newTestService(t *testing.T, completer *stubCompleter) (*ChatService, *RecordingNotifier) {
	t.Helper()
	notifier := &RecordingNotifier{}
	svc := NewChatService(testConfig(), ChatServiceOptions{
		Images:    &stubImages{url: "data:image/jpeg;base64,AAAA"},
		Completer: completer,
		Notifier:  notifier,
	})
	t.Cleanup(svc.Close)
	return svc, notifier
}

func TestChatServiceCreateSelects(t *testing.T) {
	svc, _ := newTestService(t, replyWith("ok"))

	chat, err := svc.CreateChat("")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultChatTitle, chat.Title)
	assert.Equal(t, chat.ID, svc.Selected())

	second, err := svc.CreateChat("  Planning  ")
	require.NoError(t, err)
	assert.Equal(t, "Planning", second.Title)
	assert.Equal(t, second.ID, svc.Selected())
}

func TestChatServiceSendToSelected(t *testing.T) {
	svc, notifier := newTestService(t, replyWith("hi there"))

	chat, err := svc.CreateChat("")
	require.NoError(t, err)

	res, err := svc.SendMessage(context.Background(), "", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)

	got, err := svc.GetChat(chat.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Title)
	assert.False(t, svc.IsLoading())
	assert.Empty(t, notifier.Notifications())
}

func TestChatServiceSendWithoutSelection(t *testing.T) {
	svc, _ := newTestService(t, replyWith("ok"))

	_, err := svc.SendMessage(context.Background(), "", "hello", nil)
	assert.ErrorIs(t, err, ErrNoChatSelected)

	res, err := svc.SendMessage(context.Background(), "", "   ", nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, res.State)
}

func TestChatServiceDeleteClearsSelection(t *testing.T) {
	svc, _ := newTestService(t, replyWith("ok"))

	chat, err := svc.CreateChat("")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteChat(chat.ID))
	assert.Empty(t, svc.Selected())
	require.NoError(t, svc.DeleteChat(chat.ID))

	_, err = svc.GetChat(chat.ID)
	assert.ErrorIs(t, err, storage.ErrChatNotFound)
}

func TestChatServiceDeleteOtherKeepsSelection(t *testing.T) {
	svc, _ := newTestService(t, replyWith("ok"))

	a, err := svc.CreateChat("a")
	require.NoError(t, err)
	b, err := svc.CreateChat("b")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteChat(a.ID))
	assert.Equal(t, b.ID, svc.Selected())
}

func TestChatServiceSelect(t *testing.T) {
	svc, _ := newTestService(t, replyWith("ok"))

	a, err := svc.CreateChat("a")
	require.NoError(t, err)
	_, err = svc.CreateChat("b")
	require.NoError(t, err)

	require.NoError(t, svc.Select(a.ID))
	assert.Equal(t, a.ID, svc.Selected())

	err = svc.Select("missing")
	assert.ErrorIs(t, err, storage.ErrChatNotFound)
	assert.Equal(t, a.ID, svc.Selected())
}

func TestChatServiceClearChats(t *testing.T) {
	svc, _ := newTestService(t, replyWith("ok"))

	for _, title := range []string{"a", "b", "c"} {
		_, err := svc.CreateChat(title)
		require.NoError(t, err)
	}

	require.NoError(t, svc.ClearChats())
	chats, err := svc.ListChats()
	require.NoError(t, err)
	assert.Empty(t, chats)
	assert.Empty(t, svc.Selected())
}

func TestChatServicePruneExpired(t *testing.T) {
	cfg := testConfig()
	cfg.Session.TTL = time.Hour
	svc := NewChatService(cfg, ChatServiceOptions{Completer: replyWith("ok")})
	defer svc.Close()

	chat, err := svc.CreateChat("old")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	svc.pruneExpired()

	_, err = svc.GetChat(chat.ID)
	assert.ErrorIs(t, err, storage.ErrChatNotFound)
	assert.Empty(t, svc.Selected())
}

func TestChatServiceCloseIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.Session.TTL = time.Minute
	cfg.Session.CleanupInterval = time.Millisecond
	svc := NewChatService(cfg, ChatServiceOptions{Completer: replyWith("ok")})

	svc.Close()
	svc.Close()
}
