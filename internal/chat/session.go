// Package chat связывает ленту сообщений, индикатор набора и подписку канала в сессию одной комнаты.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voxio-chat/internal/core/reconciler"
	"voxio-chat/internal/core/typing"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
	"voxio-chat/internal/realtime"
)

// DefaultHistoryLimit задает число сообщений, загружаемых при входе в комнату.
const DefaultHistoryLimit = 100

// ErrClosed возвращается при обращении к закрытой сессии.
var ErrClosed = errors.New("session is closed")

// Option настраивает Session.
type Option func(*Session)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHistoryLimit задает размер загружаемой истории.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.historyLimit = n
		}
	}
}

// WithQuietPeriod задает паузу, после которой локальный набор считается законченным.
func WithQuietPeriod(d time.Duration) Option {
	return func(s *Session) {
		s.quiet = d
	}
}

// WithReconcilerOptions передает опции каждому создаваемому Reconciler.
func WithReconcilerOptions(opts ...reconciler.Option) Option {
	return func(s *Session) {
		s.reconcilerOpts = append(s.reconcilerOpts, opts...)
	}
}

// WithTrackerOptions передает опции каждому создаваемому Tracker.
func WithTrackerOptions(opts ...typing.Option) Option {
	return func(s *Session) {
		s.trackerOpts = append(s.trackerOpts, opts...)
	}
}

// WithMessagesListener подписывает fn на изменения ленты любой открытой комнаты.
func WithMessagesListener(fn func(messages []domain.Message)) Option {
	return func(s *Session) {
		s.onMessages = fn
	}
}

// WithTypingListener подписывает fn на изменения списка печатающих.
func WithTypingListener(fn func(typists []string)) Option {
	return func(s *Session) {
		s.onTyping = fn
	}
}

// WithStatusListener подписывает fn на смену статуса подписки.
func WithStatusListener(fn func(status domain.SubscriptionStatus)) Option {
	return func(s *Session) {
		s.onStatus = fn
	}
}

// room хранит состояние одной открытой комнаты. Ничего не переживает смену комнаты.
type room struct {
	id        string
	rec       *reconciler.Reconciler
	tracker   *typing.Tracker
	debouncer *typing.Debouncer
	cancel    context.CancelFunc
}

// Session ведет активную комнату пользователя.
type Session struct {
	author         domain.Author
	store          ports.MessageStore
	adapter        *realtime.Adapter
	historyLimit   int
	quiet          time.Duration
	reconcilerOpts []reconciler.Option
	trackerOpts    []typing.Option
	onMessages     func([]domain.Message)
	onTyping       func([]string)
	onStatus       func(domain.SubscriptionStatus)
	log            *slog.Logger

	mu     sync.Mutex
	room   *room
	closed bool
}

// NewSession создает сессию пользователя author поверх хранилища и адаптера канала.
func NewSession(author domain.Author, store ports.MessageStore, adapter *realtime.Adapter, opts ...Option) *Session {
	s := &Session{
		author:       author,
		store:        store,
		adapter:      adapter,
		historyLimit: DefaultHistoryLimit,
		quiet:        typing.DefaultQuietPeriod,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "chat", "user", author.Username)
	return s
}

// Open открывает комнату roomID. Предыдущая подписка закрывается до создания состояния новой комнаты.
// Повторное открытие текущей комнаты ничего не делает.
func (s *Session) Open(ctx context.Context, roomID string) error {
	if roomID == "" {
		return realtime.ErrNoRoom
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.room != nil && s.room.id == roomID {
		return nil
	}

	var errs []error
	if err := s.teardownLocked(); err != nil {
		errs = append(errs, err)
	}

	r := s.newRoom(roomID)
	s.room = r

	if err := r.rec.Load(ctx, s.historyLimit); err != nil {
		errs = append(errs, err)
	}

	err := s.adapter.Join(ctx, roomID, realtime.Handlers{
		OnInsert: func(msg domain.Message) { r.rec.OnRemoteInsert(msg) },
		OnUpdate: func(msg domain.Message) { r.rec.OnRemoteUpdate(msg) },
		OnDelete: func(id domain.MessageID) { r.rec.OnRemoteDelete(id) },
		OnTyping: r.tracker.OnTypingEvent,
		OnStatus: func(status domain.SubscriptionStatus) {
			if status == domain.StatusSubscribed {
				r.tracker.Reset()
			}
			if s.onStatus != nil {
				s.onStatus(status)
			}
		},
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to join room %s: %w", roomID, err))
	}

	s.log.InfoContext(ctx, "Комната открыта", "room", roomID, "messages", len(r.rec.Messages()))
	return errors.Join(errs...)
}

// SwitchRoom переключает сессию на другую комнату.
func (s *Session) SwitchRoom(ctx context.Context, roomID string) error {
	return s.Open(ctx, roomID)
}

// Reconnect переподписывает текущую комнату после разрыва канала.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.adapter.Reconnect(ctx)
}

// Close закрывает подписку и останавливает таймеры. Повторный вызов ничего не делает.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.teardownLocked()
}

// Author возвращает автора сессии.
func (s *Session) Author() domain.Author {
	return s.author
}

// RoomID возвращает идентификатор открытой комнаты.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == nil {
		return ""
	}
	return s.room.id
}

// Reconciler возвращает ленту открытой комнаты или nil.
func (s *Session) Reconciler() *reconciler.Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == nil {
		return nil
	}
	return s.room.rec
}

// Typing возвращает индикатор набора открытой комнаты или nil.
func (s *Session) Typing() *typing.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == nil {
		return nil
	}
	return s.room.tracker
}

// Debouncer возвращает обработчик нажатий открытой комнаты или nil.
func (s *Session) Debouncer() *typing.Debouncer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == nil {
		return nil
	}
	return s.room.debouncer
}

func (s *Session) newRoom(roomID string) *room {
	ctx, cancel := context.WithCancel(context.Background())

	rec := reconciler.New(roomID, s.author, s.store, s.reconcilerOpts...)
	if s.onMessages != nil {
		rec.OnChange(s.onMessages)
	}

	trackerOpts := append([]typing.Option{typing.WithPublisher(s.adapter)}, s.trackerOpts...)
	tracker := typing.NewTracker(s.author.Username, trackerOpts...)
	if s.onTyping != nil {
		tracker.OnChange(s.onTyping)
	}

	debouncer := typing.NewDebouncer(s.quiet, func(isTyping bool) {
		tracker.SendLocalTyping(ctx, isTyping)
	})

	return &room{
		id:        roomID,
		rec:       rec,
		tracker:   tracker,
		debouncer: debouncer,
		cancel:    cancel,
	}
}

func (s *Session) teardownLocked() error {
	if s.room == nil {
		return nil
	}
	err := s.adapter.Leave()
	s.room.debouncer.Stop()
	s.room.tracker.Stop()
	s.room.cancel()
	s.log.Debug("Комната закрыта", "room", s.room.id)
	s.room = nil
	return err
}
