package storage

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
)

func newChat(id string, created time.Time) *model.Chat {
	return &model.Chat{ID: id, Title: model.DefaultChatTitle, CreatedAt: created, UpdatedAt: created}
}

func userMsg(id, content string) model.Message {
	return model.Message{ID: id, Role: model.RoleUser, Content: content, Timestamp: time.Now()}
}

func TestCreateAndGetChat(t *testing.T) {
	s := NewMemoryStorage()
	now := time.Now()
	require.NoError(t, s.CreateChat(newChat("c1", now)))

	chat, err := s.GetChat("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", chat.ID)
	assert.Equal(t, model.DefaultChatTitle, chat.Title)
	assert.NotNil(t, chat.Messages)
	assert.Empty(t, chat.Messages)

	assert.ErrorIs(t, s.CreateChat(newChat("c1", now)), ErrChatExists)
	assert.ErrorIs(t, s.CreateChat(&model.Chat{}), ErrInvalidData)

	_, err = s.GetChat("missing")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestAppendMessageSetsTitleAndTimestamps(t *testing.T) {
	s := NewMemoryStorage()
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateChat(newChat("c1", created)))

	later := created.Add(time.Minute)
	s.now = func() time.Time { return later }

	long := strings.Repeat("a", 45)
	chat, err := s.AppendMessage("c1", userMsg("m1", long))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 30), chat.Title)
	assert.Equal(t, later, chat.UpdatedAt)
	assert.False(t, chat.UpdatedAt.Before(chat.CreatedAt))

	chat, err = s.AppendMessage("c1", model.Message{ID: "m2", Role: model.RoleAssistant, Content: "reply"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 30), chat.Title, "title only derives from the first message")
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "m1", chat.Messages[0].ID)
	assert.Equal(t, "m2", chat.Messages[1].ID)
}

func TestAppendMessageTitleCountsRunes(t *testing.T) {
	s := NewMemoryStorage()
	require.NoError(t, s.CreateChat(newChat("c1", time.Now())))

	chat, err := s.AppendMessage("c1", userMsg("m1", strings.Repeat("é", 40)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 30), chat.Title)
}

func TestAppendMessageEmptyTextKeepsDefaultTitle(t *testing.T) {
	s := NewMemoryStorage()
	require.NoError(t, s.CreateChat(newChat("c1", time.Now())))

	chat, err := s.AppendMessage("c1", model.Message{ID: "m1", Role: model.RoleUser, Image: "data:image/png;base64,AA"})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultChatTitle, chat.Title)
}

func TestAppendMessageValidation(t *testing.T) {
	s := NewMemoryStorage()
	require.NoError(t, s.CreateChat(newChat("c1", time.Now())))

	_, err := s.AppendMessage("missing", userMsg("m1", "hi"))
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = s.AppendMessage("c1", model.Message{ID: "m1", Role: "system", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidData)

	_, err = s.AppendMessage("c1", model.Message{ID: "m1", Role: model.RoleAssistant, Image: "data:"})
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestReturnedChatsAreCopies(t *testing.T) {
	s := NewMemoryStorage()
	require.NoError(t, s.CreateChat(newChat("c1", time.Now())))
	_, err := s.AppendMessage("c1", userMsg("m1", "hello"))
	require.NoError(t, err)

	chat, err := s.GetChat("c1")
	require.NoError(t, err)
	chat.Messages[0].Content = "tampered"
	chat.Title = "tampered"

	again, err := s.GetChat("c1")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Messages[0].Content)
	assert.Equal(t, "hello", again.Title)
}

func TestDeleteChatIsIdempotent(t *testing.T) {
	s := NewMemoryStorage()
	require.NoError(t, s.CreateChat(newChat("c1", time.Now())))

	assert.NoError(t, s.DeleteChat("c1"))
	assert.NoError(t, s.DeleteChat("c1"))
	assert.NoError(t, s.DeleteChat("never-existed"))

	_, err := s.GetChat("c1")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestListChatsNewestFirst(t *testing.T) {
	s := NewMemoryStorage()
	base := time.Now()
	require.NoError(t, s.CreateChat(newChat("old", base)))
	require.NoError(t, s.CreateChat(newChat("new", base.Add(time.Second))))
	require.NoError(t, s.CreateChat(newChat("mid", base.Add(500*time.Millisecond))))

	chats, err := s.ListChats()
	require.NoError(t, err)
	require.Len(t, chats, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{chats[0].ID, chats[1].ID, chats[2].ID})

	require.NoError(t, s.Clear())
	chats, err = s.ListChats()
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestPruneBefore(t *testing.T) {
	s := NewMemoryStorage()
	base := time.Now()
	require.NoError(t, s.CreateChat(newChat("stale", base.Add(-2*time.Hour))))
	require.NoError(t, s.CreateChat(newChat("fresh", base)))

	removed, err := s.PruneBefore(base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, removed)

	_, err = s.GetChat("fresh")
	assert.NoError(t, err)
}

func TestConcurrentAppendsKeepEveryMessage(t *testing.T) {
	s := NewMemoryStorage()
	require.NoError(t, s.CreateChat(newChat("c1", time.Now())))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage("c1", userMsg(string(rune('A'+i%26)), "x"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	chat, err := s.GetChat("c1")
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 50)
}
