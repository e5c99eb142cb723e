package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxio-chat/internal/adapters/push/memory"
	"voxio-chat/internal/adapters/store/sqlstore"
	"voxio-chat/internal/core/services"
	"voxio-chat/internal/core/typing"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
	"voxio-chat/internal/realtime"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type fixture struct {
	store   *sqlstore.Store
	bus     *memory.Bus
	adapter *realtime.Adapter
	session *Session
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyRealtime отказывает в подписке, пока установлен fail.
type flakyRealtime struct {
	ports.Realtime
	fail atomic.Bool
}

func (r *flakyRealtime) Subscribe(ctx context.Context, roomID, token string) (ports.Subscription, error) {
	if r.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return r.Realtime.Subscribe(ctx, roomID, token)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	return newFixtureWith(t, nil, opts...)
}

// newFixtureWith позволяет обернуть шину перед передачей адаптеру.
func newFixtureWith(t *testing.T, wrap func(ports.Realtime) ports.Realtime, opts ...Option) *fixture {
	t.Helper()
	log := silentLogger()

	bus := memory.NewBus(memory.WithLogger(log))
	store, err := sqlstore.Open(filepath.Join(t.TempDir(), "chat.db"),
		sqlstore.WithLogger(log),
		sqlstore.WithChangeSink(bus.PublishChange),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.UpsertProfile(ctx, domain.Profile{ID: "u1", Username: "alice"}))
	require.NoError(t, store.UpsertProfile(ctx, domain.Profile{ID: "u2", Username: "bob"}))

	enricher := services.NewEnrichmentService(store, store, services.WithLogger(log))
	var transport ports.Realtime = bus
	if wrap != nil {
		transport = wrap(bus)
	}
	adapter := realtime.NewAdapter(transport, realtime.WithEnricher(enricher), realtime.WithLogger(log))

	all := append([]Option{WithLogger(log), WithQuietPeriod(50 * time.Millisecond)}, opts...)
	session := NewSession(domain.Author{ID: "u1", Username: "alice"}, store, adapter, all...)
	t.Cleanup(func() { _ = session.Close() })

	return &fixture{store: store, bus: bus, adapter: adapter, session: session}
}

// watch подписывает стороннего участника на комнату и возвращает его подписку.
func (f *fixture) watch(t *testing.T, roomID string) ports.Subscription {
	t.Helper()
	sub, err := f.bus.Subscribe(context.Background(), roomID, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func contents(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestSession_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("Загружает историю и подписывается", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store.Insert(ctx, domain.Message{RoomID: "lobby", AuthorID: "u2", Content: "earlier"})
		require.NoError(t, err)

		require.NoError(t, f.session.Open(ctx, "lobby"))

		assert.Equal(t, "lobby", f.session.RoomID())
		assert.Equal(t, []string{"earlier"}, contents(f.session.Reconciler().Messages()))
		assert.Eventually(t, f.adapter.IsSubscribed, waitFor, tick)
		assert.Equal(t, 1, f.bus.Subscribers("lobby"))
	})

	t.Run("Повторное открытие той же комнаты ничего не меняет", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.session.Open(ctx, "lobby"))
		rec := f.session.Reconciler()

		require.NoError(t, f.session.Open(ctx, "lobby"))
		assert.Same(t, rec, f.session.Reconciler())
		assert.Equal(t, 1, f.bus.Subscribers("lobby"))
	})

	t.Run("Reconnect восстанавливает комнату после неудачной подписки", func(t *testing.T) {
		flaky := &flakyRealtime{}
		flaky.fail.Store(true)
		f := newFixtureWith(t, func(bus ports.Realtime) ports.Realtime {
			flaky.Realtime = bus
			return flaky
		})

		require.Error(t, f.session.Open(ctx, "lobby"))
		assert.Equal(t, "lobby", f.session.RoomID())
		assert.False(t, f.adapter.IsSubscribed())

		flaky.fail.Store(false)
		require.NoError(t, f.session.Reconnect(ctx))
		assert.Eventually(t, f.adapter.IsSubscribed, waitFor, tick)
		assert.Equal(t, 1, f.bus.Subscribers("lobby"))
	})

	t.Run("Пустая комната", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.session.Open(ctx, ""), realtime.ErrNoRoom)
		assert.Nil(t, f.session.Reconciler())
		assert.Nil(t, f.session.Typing())
		assert.Nil(t, f.session.Debouncer())
	})
}

func TestSession_Messages(t *testing.T) {
	ctx := context.Background()

	t.Run("Свое сообщение подтверждается без дубликата", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.session.Open(ctx, "lobby"))
		require.Eventually(t, f.adapter.IsSubscribed, waitFor, tick)

		rec := f.session.Reconciler()
		_, err := rec.SendText(ctx, "hello", "")
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			msgs := rec.Messages()
			return len(msgs) == 1 && !msgs[0].IsProvisional() && msgs[0].AuthorUsername == "alice"
		}, waitFor, tick)
		// Эхо из канала не добавляет вторую копию
		time.Sleep(50 * time.Millisecond)
		assert.Len(t, rec.Messages(), 1)
	})

	t.Run("Чужое сообщение приходит через канал", func(t *testing.T) {
		var updates atomic.Int32
		f := newFixture(t, WithMessagesListener(func(msgs []domain.Message) {
			updates.Add(1)
		}))
		require.NoError(t, f.session.Open(ctx, "lobby"))
		require.Eventually(t, f.adapter.IsSubscribed, waitFor, tick)

		_, err := f.store.Insert(ctx, domain.Message{RoomID: "lobby", AuthorID: "u2", Content: "hi alice"})
		require.NoError(t, err)

		rec := f.session.Reconciler()
		assert.Eventually(t, func() bool {
			msgs := rec.Messages()
			return len(msgs) == 1 && msgs[0].AuthorUsername == "bob"
		}, waitFor, tick)
		assert.Positive(t, updates.Load())
	})

	t.Run("Смена комнаты отрезает события старой", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.session.Open(ctx, "room-a"))
		old := f.session.Reconciler()

		require.NoError(t, f.session.SwitchRoom(ctx, "room-b"))
		require.Eventually(t, f.adapter.IsSubscribed, waitFor, tick)

		assert.NotSame(t, old, f.session.Reconciler())
		assert.Equal(t, 0, f.bus.Subscribers("room-a"))
		assert.Equal(t, 1, f.bus.Subscribers("room-b"))

		_, err := f.store.Insert(ctx, domain.Message{RoomID: "room-a", AuthorID: "u2", Content: "stale"})
		require.NoError(t, err)
		_, err = f.store.Insert(ctx, domain.Message{RoomID: "room-b", AuthorID: "u2", Content: "fresh"})
		require.NoError(t, err)

		rec := f.session.Reconciler()
		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]string{"fresh"}, contents(rec.Messages()))
		}, waitFor, tick)
		assert.Empty(t, old.Messages())
	})
}

func TestSession_Typing(t *testing.T) {
	ctx := context.Background()

	t.Run("Набор собеседника попадает в индикатор", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.session.Open(ctx, "lobby"))
		require.Eventually(t, f.adapter.IsSubscribed, waitFor, tick)

		peer := f.watch(t, "lobby")
		payload, err := json.Marshal(domain.TypingEvent{User: "bob", IsTyping: true})
		require.NoError(t, err)
		require.NoError(t, peer.Send(ctx, domain.Broadcast{Event: domain.TypingEventName, Payload: payload}))

		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]string{"bob"}, f.session.Typing().CurrentTypists())
		}, waitFor, tick)
	})

	t.Run("Нажатия публикуются и гаснут после паузы", func(t *testing.T) {
		f := newFixture(t, WithTrackerOptions(typing.WithTimeout(time.Second)))
		require.NoError(t, f.session.Open(ctx, "lobby"))
		require.Eventually(t, f.adapter.IsSubscribed, waitFor, tick)

		peer := f.watch(t, "lobby")
		// Подписка стороннего участника начинается со статуса
		<-peer.Events()

		f.session.Debouncer().Keystroke()

		var got []domain.TypingEvent
		timeout := time.After(waitFor)
		for len(got) < 2 {
			select {
			case ev := <-peer.Events():
				require.NotNil(t, ev.Broadcast)
				var te domain.TypingEvent
				require.NoError(t, json.Unmarshal(ev.Broadcast.Payload, &te))
				got = append(got, te)
			case <-timeout:
				t.Fatalf("получено событий: %d", len(got))
			}
		}
		assert.Equal(t, []domain.TypingEvent{{User: "alice", IsTyping: true}, {User: "alice", IsTyping: false}}, got)
	})
}

func TestSession_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("Закрытие освобождает подписку и запрещает открытие", func(t *testing.T) {
		var statuses []domain.SubscriptionStatus
		f := newFixture(t, WithStatusListener(func(s domain.SubscriptionStatus) {
			statuses = append(statuses, s)
		}))
		require.NoError(t, f.session.Open(ctx, "lobby"))
		require.Eventually(t, f.adapter.IsSubscribed, waitFor, tick)

		require.NoError(t, f.session.Close())
		require.NoError(t, f.session.Close())

		assert.Equal(t, 0, f.bus.Subscribers("lobby"))
		assert.False(t, f.adapter.IsSubscribed())
		assert.ErrorIs(t, f.session.Open(ctx, "lobby"), ErrClosed)
		assert.ErrorIs(t, f.session.Reconnect(ctx), ErrClosed)
		assert.Contains(t, statuses, domain.StatusSubscribed)
	})
}
