// Package typing отслеживает, кто из участников комнаты сейчас набирает текст.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voxio-chat/internal/domain"
)

const (
	// Через DefaultTimeout после последнего события участник перестает считаться печатающим.
	DefaultTimeout = 3500 * time.Millisecond
	// DefaultSweepInterval задает период очистки устаревших записей.
	DefaultSweepInterval = time.Second
)

// Publisher отправляет локальные события набора текста в канал комнаты.
type Publisher interface {
	IsSubscribed() bool
	Publish(ctx context.Context, ev domain.TypingEvent) error
}

// Option настраивает Tracker.
type Option func(*Tracker)

// WithTimeout устанавливает время устаревания записи.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithSweepInterval устанавливает период очистки.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithPublisher устанавливает канал для отправки локальных событий.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) {
		t.publisher = p
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// Tracker хранит для одной комнаты отображение "имя пользователя -> время последней активности".
// Безопасен для одновременного использования.
type Tracker struct {
	self      string
	timeout   time.Duration
	interval  time.Duration
	now       func() time.Time
	publisher Publisher
	log       *slog.Logger

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	order     []string
	timer     *time.Timer
	listeners []func([]string)
	stopped   bool
}

// NewTracker создает трекер для локального пользователя self.
func NewTracker(self string, opts ...Option) *Tracker {
	t := &Tracker{
		self:     self,
		timeout:  DefaultTimeout,
		interval: DefaultSweepInterval,
		now:      time.Now,
		log:      slog.Default(),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "typing")
	return t
}

// OnChange регистрирует обработчик, который вызывается с новым списком печатающих после каждого изменения.
func (t *Tracker) OnChange(fn func(typists []string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// OnTypingEvent применяет входящее событие. События от локального пользователя игнорируются.
func (t *Tracker) OnTypingEvent(username string, isTyping bool) {
	if username == "" || username == t.self {
		return
	}

	t.mu.Lock()
	changed := false
	if isTyping {
		if _, ok := t.lastSeen[username]; !ok {
			t.order = append(t.order, username)
			changed = true
		}
		t.lastSeen[username] = t.now()
		t.scheduleLocked()
	} else if _, ok := t.lastSeen[username]; ok {
		t.removeLocked(username)
		changed = true
	}
	snapshot, listeners := t.snapshotLocked(changed)
	t.mu.Unlock()

	notify(listeners, snapshot)
}

// Sweep удаляет записи, устаревшие к моменту now.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	changed := false
	for _, name := range append([]string(nil), t.order...) {
		if now.Sub(t.lastSeen[name]) >= t.timeout {
			t.removeLocked(name)
			changed = true
		}
	}
	remaining := len(t.order)
	snapshot, listeners := t.snapshotLocked(changed)
	t.mu.Unlock()

	if changed {
		t.log.Debug("typing entries expired", "remaining", remaining)
	}
	notify(listeners, snapshot)
}

// CurrentTypists возвращает печатающих участников в порядке появления, без локального пользователя.
func (t *Tracker) CurrentTypists() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typistsLocked()
}

// Reset очищает состояние. Вызывается при (пере)подписке на комнату.
func (t *Tracker) Reset() {
	t.mu.Lock()
	changed := len(t.order) > 0
	t.lastSeen = make(map[string]time.Time)
	t.order = nil
	t.stopTimerLocked()
	snapshot, listeners := t.snapshotLocked(changed)
	t.mu.Unlock()

	notify(listeners, snapshot)
}

// Stop останавливает фоновую очистку. После Stop трекер продолжает принимать события,
// но больше не планирует очистку.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.stopTimerLocked()
}

// SendLocalTyping публикует событие набора текста от имени локального пользователя.
// Если канал не готов, событие молча отбрасывается: оно не ставится в очередь и не повторяется.
func (t *Tracker) SendLocalTyping(ctx context.Context, isTyping bool) {
	if t.publisher == nil || !t.publisher.IsSubscribed() {
		return
	}
	err := t.publisher.Publish(ctx, domain.TypingEvent{User: t.self, IsTyping: isTyping})
	if err != nil {
		t.log.WarnContext(ctx, "failed to send typing event", "error", err)
	}
}

func (t *Tracker) removeLocked(name string) {
	delete(t.lastSeen, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if len(t.order) == 0 {
		t.stopTimerLocked()
	}
}

// scheduleLocked планирует очистку, если записи есть и очистка еще не запланирована.
func (t *Tracker) scheduleLocked() {
	if t.stopped || t.timer != nil || len(t.order) == 0 {
		return
	}
	t.timer = time.AfterFunc(t.interval, t.tick)
}

func (t *Tracker) tick() {
	t.mu.Lock()
	t.timer = nil
	t.mu.Unlock()

	t.Sweep(t.now())

	t.mu.Lock()
	t.scheduleLocked()
	t.mu.Unlock()
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) typistsLocked() []string {
	out := make([]string, 0, len(t.order))
	for _, n := range t.order {
		if n != t.self {
			out = append(out, n)
		}
	}
	return out
}

func (t *Tracker) snapshotLocked(changed bool) ([]string, []func([]string)) {
	if !changed || len(t.listeners) == 0 {
		return nil, nil
	}
	return t.typistsLocked(), append(([]func([]string))(nil), t.listeners...)
}

func notify(listeners []func([]string), typists []string) {
	for _, fn := range listeners {
		fn(typists)
	}
}
