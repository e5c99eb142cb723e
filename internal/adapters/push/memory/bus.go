// Package memory реализует канал доставки внутри процесса.
// Используется локальным режимом клиента и тестами вместо сетевого транспорта.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// DefaultBuffer задает емкость очереди событий одного подписчика.
const DefaultBuffer = 64

// ErrClosed возвращается при отправке через закрытую подписку.
var ErrClosed = errors.New("subscription closed")

// Option настраивает Bus.
type Option func(*Bus)

// WithBuffer задает емкость очереди подписчика.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// Bus раздает изменения строк и широковещательные события подписчикам комнаты.
// Если очередь подписчика переполнена, событие для него отбрасывается.
type Bus struct {
	buffer int
	log    *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*subscription]struct{}
}

// NewBus создает пустую шину.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		buffer: DefaultBuffer,
		log:    slog.Default(),
		rooms:  make(map[string]map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "memory_bus")
	return b
}

// Subscribe реализует ports.Realtime. Подписка сразу переходит в состояние SUBSCRIBED.
func (b *Bus) Subscribe(ctx context.Context, roomID, token string) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscription{
		bus:    b,
		roomID: roomID,
		events: make(chan domain.ChannelEvent, b.buffer),
	}
	s.events <- domain.ChannelEvent{Status: domain.StatusSubscribed}

	b.mu.Lock()
	if b.rooms[roomID] == nil {
		b.rooms[roomID] = make(map[*subscription]struct{})
	}
	b.rooms[roomID][s] = struct{}{}
	b.mu.Unlock()

	b.log.Debug("subscriber joined", "room_id", roomID, "authenticated", token != "")
	return s, nil
}

// PublishChange раздает изменение строки всем подписчикам комнаты.
func (b *Bus) PublishChange(roomID string, ch domain.RowChange) {
	b.deliver(roomID, nil, domain.ChannelEvent{Change: &ch})
}

// Subscribers возвращает число подписчиков комнаты.
func (b *Bus) Subscribers(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

// deliver отправляет событие всем подписчикам комнаты, кроме except.
// Каналы закрываются только под b.mu, поэтому запись в закрытый канал невозможна.
func (b *Bus) deliver(roomID string, except *subscription, ev domain.ChannelEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.rooms[roomID] {
		if s == except {
			continue
		}
		select {
		case s.events <- ev:
		default:
			b.log.Warn("subscriber queue full, dropping event", "room_id", roomID)
		}
	}
}

func (b *Bus) remove(s *subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[s.roomID]
	if !ok {
		return false
	}
	if _, ok := subs[s]; !ok {
		return false
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.rooms, s.roomID)
	}
	close(s.events)
	return true
}

type subscription struct {
	bus    *Bus
	roomID string
	events chan domain.ChannelEvent
}

func (s *subscription) Events() <-chan domain.ChannelEvent {
	return s.events
}

// Send раздает событие остальным подписчикам комнаты, отправителю оно не возвращается.
func (s *subscription) Send(ctx context.Context, bc domain.Broadcast) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.bus.mu.RLock()
	_, ok := s.bus.rooms[s.roomID][s]
	s.bus.mu.RUnlock()
	if !ok {
		return ErrClosed
	}
	s.bus.deliver(s.roomID, s, domain.ChannelEvent{Broadcast: &bc})
	return nil
}

func (s *subscription) Close() error {
	s.bus.remove(s)
	return nil
}
