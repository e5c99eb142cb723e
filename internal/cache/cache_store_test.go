package cache

import (
	"context"
	"testing"
	"time"
	"voxio-chat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStore(t *testing.T) {
	t.Run("Создание нового хранилища кэша", func(t *testing.T) {
		cs := NewCacheStore[domain.Profile]()
		assert.NotNil(t, cs)
		assert.NotNil(t, cs.cache)
		assert.Equal(t, 0, cs.Len())
	})

	t.Run("Запись и чтение из кэша", func(t *testing.T) {
		cs := NewCacheStore[domain.Profile]()
		key := "user-1"
		data := domain.Profile{ID: "user-1", Username: "alice"}
		ttl := 1 * time.Minute

		cs.Put(key, data, ttl)

		item, found := cs.Get(key)
		require.True(t, found)
		require.NotNil(t, item)
		assert.Equal(t, data, item.Data)
		assert.WithinDuration(t, time.Now().Add(ttl), item.ExpiresAt, 1*time.Second)
	})

	t.Run("Чтение несуществующего ключа", func(t *testing.T) {
		cs := NewCacheStore[string]()
		_, found := cs.Get("non_existent_key")
		assert.False(t, found)
	})

	t.Run("Чтение просроченного ключа", func(t *testing.T) {
		cs := NewCacheStore[string]()
		cs.Put("expired_key", "value", -1*time.Second) // Просрочено в прошлом

		_, found := cs.Get("expired_key")
		assert.False(t, found)
	})

	t.Run("Удаление ключа", func(t *testing.T) {
		cs := NewCacheStore[string]()
		cs.Put("k", "v", time.Minute)
		cs.Delete("k")

		_, found := cs.Get("k")
		assert.False(t, found)
	})

	t.Run("Очистка просроченных ключей", func(t *testing.T) {
		cs := NewCacheStore[int]()
		cs.Put("expired", 1, -1*time.Minute)
		cs.Put("valid", 2, 1*time.Minute)

		cs.CleanupExpired()

		_, foundExpired := cs.Get("expired")
		assert.False(t, foundExpired, "Просроченный элемент должен быть удален")

		_, foundValid := cs.Get("valid")
		assert.True(t, foundValid, "Действительный элемент не должен быть удален")
		assert.Equal(t, 1, cs.Len())
	})

	t.Run("Время берется из подменяемых часов", func(t *testing.T) {
		cs := NewCacheStore[int]()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		cs.now = func() time.Time { return base }
		cs.Put("k", 1, time.Hour)

		cs.now = func() time.Time { return base.Add(2 * time.Hour) }
		_, found := cs.Get("k")
		assert.False(t, found)
	})
}

func TestStartCleanupTicker(t *testing.T) {
	cs := NewCacheStore[int]()

	cs.Put("expired", 1, 50*time.Millisecond)
	cs.Put("valid", 2, 1*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cs.StartCleanupTicker(ctx, 100*time.Millisecond)

	assert.Eventually(t, func() bool { return cs.Len() == 1 }, 2*time.Second, 20*time.Millisecond,
		"Просроченный элемент должен быть удален таймером")

	_, foundValid := cs.Get("valid")
	assert.True(t, foundValid, "Действительный элемент должен остаться")
}
