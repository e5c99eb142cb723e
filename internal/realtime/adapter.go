// Package realtime владеет подпиской на канал активной комнаты и переводит события канала
// в вызовы обработчиков ленты сообщений и индикатора набора текста.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

var (
	// ErrJoinInProgress возвращается, если подписка на ту же комнату уже устанавливается.
	ErrJoinInProgress = errors.New("join already in progress for this room")
	// ErrSuperseded возвращается, если во время подписки комната сменилась или адаптер был остановлен.
	ErrSuperseded = errors.New("join superseded by a newer room change")
	// ErrNotSubscribed возвращается при отправке без активной подписки.
	ErrNotSubscribed = errors.New("channel is not subscribed")
	// ErrNoRoom возвращается, если комната не задана.
	ErrNoRoom = errors.New("room is not set")
)

// Handlers получает события текущей комнаты. Вызовы идут из одной горутины строго в порядке поступления.
// Обработчики не должны вызывать Leave, Join или Reconnect того же адаптера.
type Handlers struct {
	OnInsert func(msg domain.Message)
	OnUpdate func(msg domain.Message)
	OnDelete func(id domain.MessageID)
	OnTyping func(username string, isTyping bool)
	OnStatus func(status domain.SubscriptionStatus)
}

// Metrics принимает наблюдения о входящих событиях.
type Metrics interface {
	ObserveEvent(kind string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveEvent(string) {}

// Option настраивает Adapter.
type Option func(*Adapter)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// WithSessionProvider задает источник токена сессии.
func WithSessionProvider(p ports.SessionProvider) Option {
	return func(a *Adapter) {
		a.sessions = p
	}
}

// WithRequireAuth запрещает анонимную подписку, если токен получить не удалось.
func WithRequireAuth(require bool) Option {
	return func(a *Adapter) {
		a.requireAuth = require
	}
}

// WithEnricher задает сервис обогащения строк.
func WithEnricher(e ports.EnrichmentService) Option {
	return func(a *Adapter) {
		a.enricher = e
	}
}

// WithMetrics устанавливает приемник метрик.
func WithMetrics(m Metrics) Option {
	return func(a *Adapter) {
		if m != nil {
			a.metrics = m
		}
	}
}

// Adapter держит не более одной живой подписки.
// Каждая смена комнаты увеличивает номер поколения. Горутина доставки сверяет его до и после
// обогащения, а Leave дожидается ее завершения, поэтому после возврата из Leave обработчики
// старой комнаты больше не вызываются.
type Adapter struct {
	transport   ports.Realtime
	sessions    ports.SessionProvider
	enricher    ports.EnrichmentService
	requireAuth bool
	metrics     Metrics
	log         *slog.Logger

	mu          sync.Mutex
	gen         uint64
	roomID      string
	joiningRoom string
	sub         ports.Subscription
	subscribed  bool
	cancel      context.CancelFunc
	done        chan struct{}

	// Цель последнего Join. Сохраняется и при неудачной подписке, чтобы Reconnect мог ее повторить.
	lastRoom     string
	lastHandlers Handlers
}

// NewAdapter создает адаптер поверх транспорта.
func NewAdapter(transport ports.Realtime, opts ...Option) *Adapter {
	a := &Adapter{
		transport: transport,
		metrics:   nopMetrics{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("component", "realtime")
	return a
}

// Join подписывается на комнату roomID, предварительно полностью закрыв предыдущую подписку.
// Повторный Join для уже подписанной комнаты ничего не делает.
func (a *Adapter) Join(ctx context.Context, roomID string, h Handlers) error {
	if roomID == "" {
		return ErrNoRoom
	}

	a.mu.Lock()
	if a.joiningRoom == roomID {
		a.mu.Unlock()
		return ErrJoinInProgress
	}
	if a.sub != nil && a.roomID == roomID {
		a.mu.Unlock()
		return nil
	}
	old := a.detachLocked()
	gen := a.gen
	a.joiningRoom = roomID
	a.lastRoom = roomID
	a.lastHandlers = h
	a.mu.Unlock()

	if err := old.wait(); err != nil {
		a.log.WarnContext(ctx, "Failed to close previous subscription", "error", err)
	}

	token, err := a.token(ctx)
	if err != nil {
		a.finishJoin(gen, roomID)
		return err
	}

	sub, err := a.transport.Subscribe(ctx, roomID, token)

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		a.log.DebugContext(ctx, "Join superseded", "room_id", roomID)
		return ErrSuperseded
	}
	a.joiningRoom = ""
	if err != nil {
		a.mu.Unlock()
		if h.OnStatus != nil {
			h.OnStatus(domain.StatusError)
		}
		return fmt.Errorf("failed to subscribe to room %s: %w", roomID, err)
	}

	dispatchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.roomID = roomID
	a.sub = sub
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go a.dispatch(dispatchCtx, gen, sub, h, done)

	a.log.InfoContext(ctx, "Joined room", "room_id", roomID, "authenticated", token != "")
	return nil
}

// Leave закрывает текущую подписку и дожидается остановки доставки событий.
func (a *Adapter) Leave() error {
	a.mu.Lock()
	old := a.detachLocked()
	a.joiningRoom = ""
	a.lastRoom = ""
	a.lastHandlers = Handlers{}
	a.mu.Unlock()

	return old.wait()
}

// Reconnect пересоздает подписку на комнату последнего Join, в том числе если та подписка не удалась.
func (a *Adapter) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	roomID, h := a.lastRoom, a.lastHandlers
	if roomID == "" {
		a.mu.Unlock()
		return ErrNoRoom
	}
	old := a.detachLocked()
	a.mu.Unlock()

	if err := old.wait(); err != nil {
		a.log.WarnContext(ctx, "Failed to close subscription before reconnect", "error", err)
	}

	a.log.InfoContext(ctx, "Reconnecting", "room_id", roomID)
	return a.Join(ctx, roomID, h)
}

// RoomID возвращает комнату текущей подписки.
func (a *Adapter) RoomID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomID
}

// IsSubscribed сообщает, готов ли канал к отправке.
func (a *Adapter) IsSubscribed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subscribed
}

// Publish отправляет событие набора текста. Без активной подписки событие не отправляется и не ставится в очередь.
func (a *Adapter) Publish(ctx context.Context, ev domain.TypingEvent) error {
	a.mu.Lock()
	sub, ready := a.sub, a.subscribed
	a.mu.Unlock()

	if sub == nil || !ready {
		return ErrNotSubscribed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode typing event: %w", err)
	}
	if err := sub.Send(ctx, domain.Broadcast{Event: domain.TypingEventName, Payload: payload}); err != nil {
		return fmt.Errorf("failed to send typing event: %w", err)
	}
	return nil
}

func (a *Adapter) token(ctx context.Context) (string, error) {
	if a.sessions == nil {
		if a.requireAuth {
			return "", fmt.Errorf("session provider is not configured")
		}
		return "", nil
	}
	token, err := a.sessions.AccessToken(ctx)
	if err != nil {
		if a.requireAuth {
			return "", fmt.Errorf("failed to obtain session token: %w", err)
		}
		a.log.WarnContext(ctx, "Session token unavailable, subscribing anonymously", "error", err)
		return "", nil
	}
	return token, nil
}

func (a *Adapter) finishJoin(gen uint64, roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen && a.joiningRoom == roomID {
		a.joiningRoom = ""
	}
}

func (a *Adapter) dispatch(ctx context.Context, gen uint64, sub ports.Subscription, h Handlers, done chan struct{}) {
	defer close(done)

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				a.setStatus(gen, h, domain.StatusClosed)
				return
			}
			if !a.current(gen) {
				return
			}
			a.handle(ctx, gen, h, ev)
		}
	}
}

func (a *Adapter) handle(ctx context.Context, gen uint64, h Handlers, ev domain.ChannelEvent) {
	switch {
	case ev.Change != nil:
		a.handleChange(ctx, gen, h, *ev.Change)
	case ev.Broadcast != nil:
		a.handleBroadcast(ctx, h, *ev.Broadcast)
	case ev.Status != "":
		a.metrics.ObserveEvent("status")
		a.setStatus(gen, h, ev.Status)
	}
}

func (a *Adapter) handleChange(ctx context.Context, gen uint64, h Handlers, ch domain.RowChange) {
	a.metrics.ObserveEvent(string(ch.Kind))

	switch ch.Kind {
	case domain.ChangeDelete:
		id := ch.OldID
		if id == "" {
			id = ch.Row.ID
		}
		if h.OnDelete != nil && id != "" {
			h.OnDelete(id)
		}
	case domain.ChangeInsert, domain.ChangeUpdate:
		msg := a.enrich(ctx, ch.Row)
		// Комната могла смениться, пока шло обогащение.
		if !a.current(gen) {
			a.log.DebugContext(ctx, "Dropping event for stale room", "message_id", ch.Row.ID)
			return
		}
		if ch.Kind == domain.ChangeInsert && h.OnInsert != nil {
			h.OnInsert(msg)
		}
		if ch.Kind == domain.ChangeUpdate && h.OnUpdate != nil {
			h.OnUpdate(msg)
		}
	default:
		a.log.DebugContext(ctx, "Ignoring unknown change kind", "kind", ch.Kind)
	}
}

func (a *Adapter) handleBroadcast(ctx context.Context, h Handlers, b domain.Broadcast) {
	if b.Event != domain.TypingEventName {
		a.log.DebugContext(ctx, "Ignoring broadcast", "event", b.Event)
		return
	}
	a.metrics.ObserveEvent("typing")

	var ev domain.TypingEvent
	if err := json.Unmarshal(b.Payload, &ev); err != nil {
		a.log.DebugContext(ctx, "Malformed typing payload", "error", err)
		return
	}
	if ev.User == "" || h.OnTyping == nil {
		return
	}
	h.OnTyping(ev.User, ev.IsTyping)
}

func (a *Adapter) enrich(ctx context.Context, row domain.RawMessage) domain.Message {
	if a.enricher == nil {
		return row.Message()
	}
	return a.enricher.Enrich(ctx, row)
}

func (a *Adapter) setStatus(gen uint64, h Handlers, status domain.SubscriptionStatus) {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	a.subscribed = status == domain.StatusSubscribed
	a.mu.Unlock()

	a.log.Debug("Subscription status changed", "status", status)
	if h.OnStatus != nil {
		h.OnStatus(status)
	}
}

func (a *Adapter) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == gen
}

// detachLocked отвязывает текущую подписку и делает все ее события устаревшими.
func (a *Adapter) detachLocked() teardown {
	a.gen++
	t := teardown{sub: a.sub, cancel: a.cancel, done: a.done}
	a.sub = nil
	a.cancel = nil
	a.done = nil
	a.roomID = ""
	a.subscribed = false
	return t
}

type teardown struct {
	sub    ports.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func (t teardown) wait() error {
	if t.cancel != nil {
		t.cancel()
	}
	var err error
	if t.sub != nil {
		err = t.sub.Close()
	}
	if t.done != nil {
		<-t.done
	}
	return err
}
