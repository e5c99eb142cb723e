package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxio-chat/internal/domain"
)

type changeLog struct {
	mu      sync.Mutex
	rooms   []string
	changes []domain.RowChange
}

func (c *changeLog) sink(roomID string, ch domain.RowChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = append(c.rooms, roomID)
	c.changes = append(c.changes, ch)
}

func (c *changeLog) all() []domain.RowChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.RowChange(nil), c.changes...)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	all := append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock),
	}, opts...)
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"), all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("Insert назначает идентификатор и подставляет профиль автора", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.UpsertProfile(ctx, domain.Profile{ID: "u1", Username: "alice", AvatarURL: "https://a/1.png"}))

		got, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1", Content: "hello", ClientID: "c-1"})
		require.NoError(t, err)

		assert.False(t, got.ID.IsProvisional())
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, "alice", got.AuthorUsername)
		assert.Equal(t, "https://a/1.png", got.AuthorAvatarURL)
		assert.Equal(t, "c-1", got.ClientID)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("Пустое сообщение отклоняется", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1", Content: "   "})
		assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	})

	t.Run("Ответ на временное сообщение отклоняется", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1", Content: "x", RepliedToID: "temp-1-1"})
		assert.ErrorIs(t, err, domain.ErrProvisional)
	})

	t.Run("ListByRoom возвращает последние сообщения по возрастанию", func(t *testing.T) {
		s := newTestStore(t)
		for _, text := range []string{"one", "two", "three"} {
			_, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1", Content: text})
			require.NoError(t, err)
		}
		_, err := s.Insert(ctx, domain.Message{RoomID: "r2", AuthorID: "u1", Content: "other"})
		require.NoError(t, err)

		all, err := s.ListByRoom(ctx, "r1", 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "one", all[0].Content)
		assert.Equal(t, "three", all[2].Content)

		last, err := s.ListByRoom(ctx, "r1", 2)
		require.NoError(t, err)
		require.Len(t, last, 2)
		assert.Equal(t, "two", last[0].Content)
		assert.Equal(t, "three", last[1].Content)

		empty, err := s.ListByRoom(ctx, "nobody", 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Снимок ответа собирается из исходного сообщения", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.UpsertProfile(ctx, domain.Profile{ID: "u1", Username: "alice"}))
		parent, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1", Content: "question"})
		require.NoError(t, err)

		reply, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u2", Content: "answer", RepliedToID: parent.ID})
		require.NoError(t, err)
		require.NotNil(t, reply.RepliedTo)
		assert.Equal(t, "alice", reply.RepliedTo.AuthorUsername)
		assert.Equal(t, "question", reply.RepliedTo.Content)

		got, err := s.Get(ctx, reply.ID)
		require.NoError(t, err)
		assert.Equal(t, parent.ID, got.RepliedToID)
		require.NotNil(t, got.RepliedTo)
	})

	t.Run("Update меняет текст и реакции", func(t *testing.T) {
		s := newTestStore(t)
		msg, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1", Content: "draft"})
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, msg.ID, domain.EditPatch("final")))
		groups := domain.ToggleReaction(nil, "👍", "u2")
		require.NoError(t, s.Update(ctx, msg.ID, domain.ReactionsPatch(groups)))

		got, err := s.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "final", got.Content)
		assert.True(t, got.IsEdited)
		require.Len(t, got.Reactions, 1)
		assert.Equal(t, []string{"u2"}, got.Reactions[0].UserIDs)

		require.NoError(t, s.Update(ctx, msg.ID, domain.ReactionsPatch(nil)))
		got, err = s.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Reactions)
	})

	t.Run("Операции над отсутствующей строкой возвращают ErrNotFound", func(t *testing.T) {
		s := newTestStore(t)
		assert.ErrorIs(t, s.Update(ctx, "999", domain.EditPatch("x")), domain.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "999"), domain.ErrNotFound)
		_, err := s.Get(ctx, "999")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.Get(ctx, "not-a-number")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete удаляет строку", func(t *testing.T) {
		s := newTestStore(t)
		msg, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1", Content: "bye"})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, msg.ID))
		list, err := s.ListByRoom(ctx, "r1", 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestStoreProfiles(t *testing.T) {
	ctx := context.Background()

	t.Run("UpsertProfile обновляет существующий профиль", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.UpsertProfile(ctx, domain.Profile{ID: "u1", Username: "alice"}))
		require.NoError(t, s.UpsertProfile(ctx, domain.Profile{ID: "u1", Username: "alice2"}))

		p, err := s.Profile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "alice2", p.Username)
	})

	t.Run("Неизвестный пользователь", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Profile(ctx, "ghost")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestStoreChangeSink(t *testing.T) {
	ctx := context.Background()

	t.Run("Каждое зафиксированное изменение уходит в sink", func(t *testing.T) {
		log := &changeLog{}
		s := newTestStore(t, WithChangeSink(log.sink))

		msg, err := s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1", Content: "hi", ClientID: "c-9"})
		require.NoError(t, err)
		require.NoError(t, s.Update(ctx, msg.ID, domain.EditPatch("hi!")))
		require.NoError(t, s.Delete(ctx, msg.ID))

		changes := log.all()
		require.Len(t, changes, 3)

		assert.Equal(t, domain.ChangeInsert, changes[0].Kind)
		assert.Equal(t, msg.ID, changes[0].Row.ID)
		assert.Equal(t, "c-9", changes[0].Row.ClientID)
		assert.Equal(t, "u1", changes[0].Row.AuthorID)

		assert.Equal(t, domain.ChangeUpdate, changes[1].Kind)
		assert.Equal(t, "hi!", changes[1].Row.Content)
		assert.True(t, changes[1].Row.IsEdited)

		assert.Equal(t, domain.ChangeDelete, changes[2].Kind)
		assert.Equal(t, msg.ID, changes[2].OldID)

		assert.Equal(t, []string{"r1", "r1", "r1"}, log.rooms)
	})

	t.Run("Неудачная операция не порождает событий", func(t *testing.T) {
		log := &changeLog{}
		s := newTestStore(t, WithChangeSink(log.sink))

		_ = s.Delete(ctx, "12345")
		_, _ = s.Insert(ctx, domain.Message{RoomID: "r1", AuthorID: "u1"})
		assert.Empty(t, log.all())
	})
}
