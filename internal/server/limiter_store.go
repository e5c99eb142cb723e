package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter ограничивает запросы одного клиента
type clientLimiter struct {
	limiter   *rate.Limiter
	ExpiresAt time.Time // Для автоматической очистки
}

// LimiterStore хранит ограничители запросов по ключу клиента
type LimiterStore struct {
	limiters map[string]*clientLimiter
	mutex    sync.Mutex
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

// NewLimiterStore создает новый экземпляр LimiterStore.
// Ограничитель клиента забывается, если от клиента не было запросов дольше ttl.
func NewLimiterStore(rps float64, burst int, ttl time.Duration) *LimiterStore {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &LimiterStore{
		limiters: make(map[string]*clientLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow сообщает, можно ли обслужить очередной запрос клиента key
func (ls *LimiterStore) Allow(key string) bool {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	now := ls.now()
	cl, exists := ls.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(ls.rps, ls.burst)}
		ls.limiters[key] = cl
	}
	cl.ExpiresAt = now.Add(ls.ttl)

	return cl.limiter.AllowN(now, 1)
}

// Len возвращает количество отслеживаемых клиентов
func (ls *LimiterStore) Len() int {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	return len(ls.limiters)
}

// CleanupExpired удаляет ограничители неактивных клиентов
func (ls *LimiterStore) CleanupExpired() {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	now := ls.now()
	for key, cl := range ls.limiters {
		if now.After(cl.ExpiresAt) {
			delete(ls.limiters, key)
		}
	}
}

// StartCleanupTicker запускает тикер для периодической очистки неактивных клиентов
func (ls *LimiterStore) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ls.CleanupExpired()
			}
		}
	}()
}
