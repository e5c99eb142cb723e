// Package reconciler хранит упорядоченный список сообщений комнаты и сводит
// оптимистичные локальные изменения с подтвержденными строками из канала.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// Операции, о сбое которых сообщается через Notifier.
const (
	OpLoad           = "load"
	OpSend           = "send"
	OpSendAttachment = "send_attachment"
	OpEdit           = "edit"
	OpDelete         = "delete"
	OpReact          = "react"
)

// ErrNoAttachmentStore возвращается при отправке вложения без настроенного хранилища.
var ErrNoAttachmentStore = errors.New("attachment store is not configured")

// MergeOutcome — результат применения входящей вставки.
type MergeOutcome string

const (
	// Временная запись заменена на месте.
	MergeReplaced MergeOutcome = "replaced"
	// Строка с таким идентификатором уже есть, доставка повторная.
	MergeDuplicate MergeOutcome = "duplicate"
	// Строка добавлена в конец списка.
	MergeAppended MergeOutcome = "appended"
	// Строка относится к другой комнате и отброшена.
	MergeForeign MergeOutcome = "foreign"
)

// maxRemovedIDs ограничивает число запоминаемых удалений из канала.
const maxRemovedIDs = 1024

// Reconciler ведет список сообщений одной комнаты.
// Безопасен для одновременного использования: вызовы хранилища выполняются без удержания блокировки,
// поэтому входящие события могут применяться, пока отправка еще не завершилась.
type Reconciler struct {
	roomID      string
	author      domain.Author
	store       ports.MessageStore
	attachments ports.AttachmentStore
	notifier    ports.Notifier
	metrics     Metrics
	now         func() time.Time
	newClientID func() string
	log         *slog.Logger

	mu        sync.Mutex
	messages  []domain.Message
	confirmed map[domain.MessageID]domain.Message
	// Идентификаторы, удаление которых уже подтверждено каналом. Старейшие вытесняются.
	removed      map[domain.MessageID]struct{}
	removedOrder []domain.MessageID
	listeners    []func([]domain.Message)
}

// New создает Reconciler для комнаты roomID от имени author.
func New(roomID string, author domain.Author, store ports.MessageStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		roomID:      roomID,
		author:      author,
		store:       store,
		notifier:    nopNotifier{},
		metrics:     nopMetrics{},
		now:         time.Now,
		newClientID: defaultClientID,
		log:         slog.Default(),
		confirmed:   make(map[domain.MessageID]domain.Message),
		removed:     make(map[domain.MessageID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "reconciler", "room_id", roomID)
	return r
}

// RoomID возвращает комнату, которую ведет Reconciler.
func (r *Reconciler) RoomID() string {
	return r.roomID
}

// OnChange регистрирует обработчик, получающий снимок списка после каждого изменения.
// Обработчик вызывается под внутренней блокировкой и не должен обращаться к Reconciler.
func (r *Reconciler) OnChange(fn func(messages []domain.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Messages возвращает глубокую копию текущего списка.
func (r *Reconciler) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Find возвращает копию сообщения по идентификатору.
func (r *Reconciler) Find(id domain.MessageID) (domain.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.messages[i].Clone(), true
	}
	return domain.Message{}, false
}

// Load загружает последние limit сообщений комнаты.
// Уже подтвержденные записи заменяются ответом хранилища, временные остаются в конце списка.
func (r *Reconciler) Load(ctx context.Context, limit int) error {
	rows, err := r.store.ListByRoom(ctx, r.roomID, limit)
	if err != nil {
		r.fail(ctx, OpLoad, err)
		return fmt.Errorf("failed to load room history: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	r.mu.Lock()
	seen := make(map[string]struct{}, len(rows))
	next := make([]domain.Message, 0, len(rows)+len(r.messages))
	r.confirmed = make(map[domain.MessageID]domain.Message, len(rows))
	r.removed = make(map[domain.MessageID]struct{})
	r.removedOrder = nil
	for _, row := range rows {
		m := row.Clone()
		m.Reactions = domain.NormalizeReactions(m.Reactions)
		next = append(next, m)
		r.confirmed[m.ID] = m.Clone()
		if m.ClientID != "" {
			seen[m.ClientID] = struct{}{}
		}
	}
	for _, m := range r.messages {
		if !m.IsProvisional() {
			continue
		}
		if _, ok := seen[m.ClientID]; ok && m.ClientID != "" {
			continue
		}
		next = append(next, m)
	}
	r.messages = next
	r.publishLocked()

	r.log.DebugContext(ctx, "history loaded", "count", len(rows))
	return nil
}

// SendText оптимистично добавляет текстовое сообщение и сохраняет его.
// replyTo может быть пустым.
func (r *Reconciler) SendText(ctx context.Context, content string, replyTo domain.MessageID) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}

	draft, err := r.appendProvisional(content, "", replyTo)
	if err != nil {
		return domain.Message{}, err
	}

	persisted, err := r.store.Insert(ctx, r.outgoing(draft, draft.AttachmentURL))
	if err != nil {
		r.dropProvisional(draft.ID)
		r.fail(ctx, OpSend, err)
		return domain.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	return r.confirmDirect(draft, persisted), nil
}

// SendAttachment оптимистично добавляет сообщение с вложением, загружает файл и сохраняет строку.
// До подтверждения временная запись ссылается на файл локальным URL.
func (r *Reconciler) SendAttachment(ctx context.Context, file domain.File, content string, replyTo domain.MessageID) (domain.Message, error) {
	if r.attachments == nil {
		return domain.Message{}, ErrNoAttachmentStore
	}
	if len(file.Data) == 0 {
		return domain.Message{}, domain.ErrEmptyMessage
	}

	draft, err := r.appendProvisional(strings.TrimSpace(content), file.LocalPreviewURL(), replyTo)
	if err != nil {
		return domain.Message{}, err
	}

	publicURL, err := r.attachments.Upload(ctx, r.author.ID, file)
	if err != nil {
		r.dropProvisional(draft.ID)
		r.fail(ctx, OpSendAttachment, err)
		return domain.Message{}, fmt.Errorf("failed to upload attachment: %w", err)
	}

	persisted, err := r.store.Insert(ctx, r.outgoing(draft, publicURL))
	if err != nil {
		r.dropProvisional(draft.ID)
		if rmErr := r.attachments.Remove(ctx, publicURL); rmErr != nil {
			r.log.WarnContext(ctx, "failed to remove orphaned attachment", "url", publicURL, "error", rmErr)
		}
		r.fail(ctx, OpSendAttachment, err)
		return domain.Message{}, fmt.Errorf("failed to send attachment message: %w", err)
	}

	return r.confirmDirect(draft, persisted), nil
}

// EditText меняет текст подтвержденного сообщения.
// При сбое сохранения запись возвращается к последнему подтвержденному значению.
func (r *Reconciler) EditText(ctx context.Context, id domain.MessageID, content string) error {
	if id.IsProvisional() {
		return domain.ErrProvisional
	}
	content = strings.TrimSpace(content)

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	current := r.messages[i]
	if current.Content == content {
		r.mu.Unlock()
		return nil
	}
	patch := domain.EditPatch(content)
	edited := patch.Apply(current)
	if err := edited.Validate(); err != nil {
		r.mu.Unlock()
		return err
	}
	r.messages[i] = edited
	r.publishLocked()
	r.mu.Unlock()

	if err := r.store.Update(ctx, id, patch); err != nil {
		r.revert(id, func(m domain.Message) bool { return m.Content == content })
		r.fail(ctx, OpEdit, err)
		return fmt.Errorf("failed to edit message %s: %w", id, err)
	}

	r.mu.Lock()
	r.confirmed[id] = edited.Clone()
	r.mu.Unlock()
	return nil
}

// DeleteMessage удаляет подтвержденное сообщение.
// При сбое запись возвращается на прежнее место, если канал к тому времени не подтвердил удаление.
func (r *Reconciler) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	if id.IsProvisional() {
		return domain.ErrProvisional
	}

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	removed := r.messages[i]
	r.messages = append(r.messages[:i], r.messages[i+1:]...)
	r.publishLocked()
	r.mu.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		r.mu.Lock()
		_, gone := r.removed[id]
		if !gone && r.indexLocked(id) < 0 {
			restored := removed
			if c, ok := r.confirmed[id]; ok {
				restored = c.Clone()
			}
			pos := min(i, len(r.messages))
			r.messages = append(r.messages[:pos], append([]domain.Message{restored}, r.messages[pos:]...)...)
			r.publishLocked()
		}
		r.mu.Unlock()

		r.fail(ctx, OpDelete, err)
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}

	r.mu.Lock()
	delete(r.confirmed, id)
	r.mu.Unlock()
	return nil
}

// ToggleReaction переключает реакцию userID эмодзи emoji на сообщении id.
// Набор реакций сохраняется целиком, при одновременных записях побеждает последняя.
func (r *Reconciler) ToggleReaction(ctx context.Context, id domain.MessageID, emoji, userID string) error {
	if id.IsProvisional() {
		return domain.ErrProvisional
	}
	if emoji == "" || userID == "" {
		return fmt.Errorf("emoji and user id are required")
	}

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	next := domain.ToggleReaction(r.messages[i].Reactions, emoji, userID)
	r.messages[i].Reactions = next
	r.publishLocked()
	r.mu.Unlock()

	if err := r.store.Update(ctx, id, domain.ReactionsPatch(next)); err != nil {
		r.revert(id, func(m domain.Message) bool { return sameReactions(m.Reactions, next) })
		r.fail(ctx, OpReact, err)
		return fmt.Errorf("failed to update reactions on %s: %w", id, err)
	}

	r.mu.Lock()
	if c, ok := r.confirmed[id]; ok {
		c.Reactions = domain.CloneReactions(next)
		r.confirmed[id] = c
	}
	r.mu.Unlock()
	return nil
}

// OnRemoteInsert применяет вставку, пришедшую из канала.
//
// Порядок сведения:
//  1. временная запись того же отправителя заменяется на месте. Сопоставление идет по ClientID,
//     а если у строки его нет, то по (автор, текст, наличие вложения);
//  2. строка с уже известным идентификатором считается повторной доставкой и отбрасывается;
//  3. иначе строка добавляется в конец.
func (r *Reconciler) OnRemoteInsert(msg domain.Message) MergeOutcome {
	if msg.RoomID != "" && msg.RoomID != r.roomID {
		r.metrics.ObserveMerge(MergeForeign)
		return MergeForeign
	}
	msg = msg.Clone()
	msg.Reactions = domain.NormalizeReactions(msg.Reactions)

	r.mu.Lock()
	outcome := r.mergeLocked(msg)
	if outcome != MergeDuplicate {
		r.publishLocked()
	}
	r.mu.Unlock()

	r.metrics.ObserveMerge(outcome)
	r.log.Debug("remote insert merged", "message_id", msg.ID, "outcome", outcome)
	return outcome
}

// OnRemoteUpdate заменяет запись с тем же идентификатором. Возвращает false, если записи нет.
func (r *Reconciler) OnRemoteUpdate(msg domain.Message) bool {
	if msg.RoomID != "" && msg.RoomID != r.roomID {
		return false
	}
	msg = msg.Clone()
	msg.Reactions = domain.NormalizeReactions(msg.Reactions)

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(msg.ID)
	if i < 0 {
		return false
	}
	r.messages[i] = carryOver(r.messages[i], msg)
	r.confirmed[msg.ID] = r.messages[i].Clone()
	r.publishLocked()
	return true
}

// OnRemoteDelete удаляет запись. Удаление отсутствующей записи ничего не делает.
func (r *Reconciler) OnRemoteDelete(id domain.MessageID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rememberRemovedLocked(id)
	delete(r.confirmed, id)

	i := r.indexLocked(id)
	if i < 0 {
		return false
	}
	r.messages = append(r.messages[:i], r.messages[i+1:]...)
	r.publishLocked()
	return true
}

func (r *Reconciler) mergeLocked(msg domain.Message) MergeOutcome {
	if i := r.matchProvisionalLocked(msg); i >= 0 {
		r.messages[i] = carryOver(r.messages[i], msg)
		r.confirmed[msg.ID] = r.messages[i].Clone()
		return MergeReplaced
	}
	if r.indexLocked(msg.ID) >= 0 {
		return MergeDuplicate
	}
	r.messages = append(r.messages, msg)
	r.confirmed[msg.ID] = msg.Clone()
	return MergeAppended
}

func (r *Reconciler) matchProvisionalLocked(msg domain.Message) int {
	for i, m := range r.messages {
		if !m.IsProvisional() {
			continue
		}
		if msg.ClientID != "" {
			if m.ClientID == msg.ClientID {
				return i
			}
			continue
		}
		if m.AuthorID == msg.AuthorID && m.Content == msg.Content && m.HasAttachment() == msg.HasAttachment() {
			return i
		}
	}
	return -1
}

func (r *Reconciler) appendProvisional(content, attachmentURL string, replyTo domain.MessageID) (domain.Message, error) {
	if replyTo.IsProvisional() {
		return domain.Message{}, domain.ErrProvisional
	}

	now := r.now()
	draft := domain.Message{
		ID:             domain.NewProvisionalID(now),
		ClientID:       r.newClientID(),
		RoomID:         r.roomID,
		Content:        content,
		AuthorID:       r.author.ID,
		AuthorUsername: r.author.Username,
		CreatedAt:      now,
		AttachmentURL:  attachmentURL,
		RepliedToID:    replyTo,
	}
	if err := draft.Validate(); err != nil {
		return domain.Message{}, err
	}

	r.mu.Lock()
	if replyTo != "" {
		if i := r.indexLocked(replyTo); i >= 0 {
			draft.RepliedTo = r.messages[i].Snapshot()
		}
	}
	r.messages = append(r.messages, draft)
	r.publishLocked()
	r.mu.Unlock()

	return draft, nil
}

// outgoing готовит строку для вставки: без временного идентификатора и с итоговым URL вложения.
func (r *Reconciler) outgoing(draft domain.Message, attachmentURL string) domain.Message {
	out := draft.Clone()
	out.ID = ""
	out.AttachmentURL = attachmentURL
	return out
}

func (r *Reconciler) dropProvisional(id domain.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		r.messages = append(r.messages[:i], r.messages[i+1:]...)
		r.publishLocked()
	}
}

// confirmDirect применяет строку, которую вернуло хранилище.
// Если эхо из канала уже пришло, список не меняется.
func (r *Reconciler) confirmDirect(draft, persisted domain.Message) domain.Message {
	if persisted.ID == "" || persisted.ID.IsProvisional() {
		return draft
	}
	persisted = persisted.Clone()
	persisted.Reactions = domain.NormalizeReactions(persisted.Reactions)

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexLocked(persisted.ID); i >= 0 {
		// Эхо успело раньше. Временная запись уже заменена.
		r.metrics.ObserveMerge(MergeDuplicate)
		return r.messages[i].Clone()
	}
	if _, gone := r.removed[persisted.ID]; gone {
		// Строку успели удалить в канале, временная запись больше ничего не обозначает.
		delete(r.removed, persisted.ID)
		if i := r.indexLocked(draft.ID); i >= 0 {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			r.publishLocked()
		}
		return persisted
	}
	i := r.indexLocked(draft.ID)
	if i < 0 {
		return persisted
	}
	r.messages[i] = carryOver(r.messages[i], persisted)
	r.confirmed[persisted.ID] = r.messages[i].Clone()
	r.publishLocked()
	r.metrics.ObserveMerge(MergeReplaced)
	return r.messages[i].Clone()
}

func (r *Reconciler) rememberRemovedLocked(id domain.MessageID) {
	if _, ok := r.removed[id]; ok {
		return
	}
	r.removed[id] = struct{}{}
	r.removedOrder = append(r.removedOrder, id)
	for len(r.removedOrder) > maxRemovedIDs {
		delete(r.removed, r.removedOrder[0])
		r.removedOrder = r.removedOrder[1:]
	}
}

// revert возвращает запись id к последнему подтвержденному значению,
// если текущее значение все еще то, что записала неудавшаяся операция.
func (r *Reconciler) revert(id domain.MessageID, stillOurs func(domain.Message) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(id)
	if i < 0 || !stillOurs(r.messages[i]) {
		return
	}
	prev, ok := r.confirmed[id]
	if !ok {
		return
	}
	r.messages[i] = prev.Clone()
	r.publishLocked()
}

func (r *Reconciler) fail(ctx context.Context, op string, err error) {
	r.log.ErrorContext(ctx, "optimistic operation failed", "op", op, "error", err)
	r.metrics.ObserveFailure(op)
	r.notifier.NotifyFailure(op, err)
}

func (r *Reconciler) indexLocked(id domain.MessageID) int {
	if id == "" {
		return -1
	}
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) snapshotLocked() []domain.Message {
	out := make([]domain.Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Clone()
	}
	return out
}

// publishLocked вызывает обработчики под блокировкой, чтобы снимки приходили в порядке изменений.
func (r *Reconciler) publishLocked() {
	if len(r.listeners) == 0 {
		return
	}
	snapshot := r.snapshotLocked()
	for _, fn := range r.listeners {
		fn(snapshot)
	}
}

// carryOver переносит в подтвержденную строку поля, которые знает только клиент.
func carryOver(prev, next domain.Message) domain.Message {
	if next.RepliedTo == nil && prev.RepliedTo != nil && next.RepliedToID == prev.RepliedToID {
		snap := *prev.RepliedTo
		next.RepliedTo = &snap
	}
	if next.AuthorUsername == "" {
		next.AuthorUsername = prev.AuthorUsername
	}
	if next.AuthorAvatarURL == "" {
		next.AuthorAvatarURL = prev.AuthorAvatarURL
	}
	return next
}

func sameReactions(a, b []domain.Reaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Emoji != b[i].Emoji || len(a[i].UserIDs) != len(b[i].UserIDs) {
			return false
		}
		for j := range a[i].UserIDs {
			if a[i].UserIDs[j] != b[i].UserIDs[j] {
				return false
			}
		}
	}
	return true
}
