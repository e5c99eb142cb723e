package cache

import (
	"context"
	"sync"
	"time"
)

// CacheItem представляет кэшированное значение
type CacheItem[V any] struct {
	Data      V
	ExpiresAt time.Time
}

// CacheStore управляет хранением и извлечением значений с ограниченным сроком жизни
type CacheStore[V any] struct {
	cache map[string]*CacheItem[V]
	mutex sync.RWMutex
	now   func() time.Time
}

// NewCacheStore создает новый экземпляр CacheStore
func NewCacheStore[V any]() *CacheStore[V] {
	return &CacheStore[V]{
		cache: make(map[string]*CacheItem[V]),
		now:   time.Now,
	}
}

// Get извлекает кэшированный элемент по ключу
func (cs *CacheStore[V]) Get(key string) (*CacheItem[V], bool) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	item, exists := cs.cache[key]
	if !exists || cs.now().After(item.ExpiresAt) {
		// Элемент не существует или срок его действия истек
		return nil, false
	}

	return item, true
}

// Put сохраняет элемент в кэш с указанным сроком действия
func (cs *CacheStore[V]) Put(key string, data V, ttl time.Duration) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.cache[key] = &CacheItem[V]{
		Data:      data,
		ExpiresAt: cs.now().Add(ttl),
	}
}

// Delete удаляет элемент из кэша
func (cs *CacheStore[V]) Delete(key string) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	delete(cs.cache, key)
}

// Len возвращает количество элементов, включая еще не очищенные просроченные
func (cs *CacheStore[V]) Len() int {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return len(cs.cache)
}

// CleanupExpired удаляет просроченные элементы из кэша
func (cs *CacheStore[V]) CleanupExpired() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	now := cs.now()
	for key, item := range cs.cache {
		if now.After(item.ExpiresAt) {
			delete(cs.cache, key)
		}
	}
}

// StartCleanupTicker запускает таймер для периодической очистки просроченных элементов
func (cs *CacheStore[V]) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cs.CleanupExpired()
			}
		}
	}()
}
