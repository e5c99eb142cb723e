package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrEmptyMessage возвращается, если у сообщения нет ни текста, ни вложения.
	ErrEmptyMessage = errors.New("message must have content or attachment")
	// ErrProvisional возвращается при попытке изменить неподтвержденное сообщение.
	ErrProvisional = errors.New("message is not confirmed yet")
	// ErrNotFound возвращается, когда сообщение отсутствует в локальном списке или в хранилище.
	ErrNotFound = errors.New("message not found")
)

// ProvisionalPrefix открывает пространство имен временных (локальных) идентификаторов.
const ProvisionalPrefix = "temp-"

// MessageID — непрозрачный идентификатор сообщения.
// Либо стабильный идентификатор из хранилища, либо временный с префиксом "temp-".
type MessageID string

// IsProvisional сообщает, что идентификатор локальный и еще не подтвержден хранилищем.
func (id MessageID) IsProvisional() bool {
	return strings.HasPrefix(string(id), ProvisionalPrefix)
}

// String реализует fmt.Stringer.
func (id MessageID) String() string {
	return string(id)
}

var provisionalSeq atomic.Uint64

// NewProvisionalID создает новый временный идентификатор.
// Суффикс состоит из времени создания и монотонно растущего счетчика процесса,
// поэтому два идентификатора, созданных в одну наносекунду, все равно различаются.
func NewProvisionalID(now time.Time) MessageID {
	seq := provisionalSeq.Add(1)
	return MessageID(fmt.Sprintf("%s%d-%d", ProvisionalPrefix, now.UnixNano(), seq))
}

// PersistedID приводит числовой идентификатор строки хранилища к MessageID.
func PersistedID(id uint64) MessageID {
	return MessageID(strconv.FormatUint(id, 10))
}

// ReplySnapshot — денормализованный снимок сообщения, на которое ответили.
// Это обратная ссылка, а не владение: удаление исходного сообщения снимок не затрагивает.
type ReplySnapshot struct {
	AuthorUsername string `json:"username"`
	Content        string `json:"content"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
}

// Message представляет одно сообщение комнаты в том виде, в каком его видит клиент.
type Message struct {
	ID MessageID `json:"id"`
	// ClientID — ключ идемпотентности, сгенерированный клиентом и сохраняемый вместе со строкой.
	ClientID        string         `json:"client_id,omitempty"`
	RoomID          string         `json:"room_id"`
	Content         string         `json:"content"`
	AuthorID        string         `json:"user_id"`
	AuthorUsername  string         `json:"username"`
	AuthorAvatarURL string         `json:"avatar_url,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	AttachmentURL   string         `json:"attachment_url,omitempty"`
	Reactions       []Reaction     `json:"reactions"`
	IsEdited        bool           `json:"is_edited"`
	RepliedToID     MessageID      `json:"replied_to_id,omitempty"`
	RepliedTo       *ReplySnapshot `json:"replied_to_message,omitempty"`
}

// IsProvisional сообщает, что сообщение создано локально и еще не подтверждено.
func (m Message) IsProvisional() bool {
	return m.ID.IsProvisional()
}

// HasAttachment сообщает, есть ли у сообщения вложение.
func (m Message) HasAttachment() bool {
	return m.AttachmentURL != ""
}

// AttachmentKind возвращает категорию вложения, выведенную из расширения URL.
func (m Message) AttachmentKind() AttachmentKind {
	return AttachmentKindOf(m.AttachmentURL)
}

// Validate проверяет инвариант "текст или вложение".
func (m Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" && m.AttachmentURL == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Snapshot строит снимок для ответа на это сообщение.
func (m Message) Snapshot() *ReplySnapshot {
	return &ReplySnapshot{
		AuthorUsername: m.AuthorUsername,
		Content:        m.Content,
		AttachmentURL:  m.AttachmentURL,
	}
}

// Clone возвращает глубокую копию сообщения.
func (m Message) Clone() Message {
	c := m
	c.Reactions = CloneReactions(m.Reactions)
	if m.RepliedTo != nil {
		snap := *m.RepliedTo
		c.RepliedTo = &snap
	}
	return c
}

// Profile содержит публичный профиль пользователя для обогащения строк.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Author описывает локального пользователя, от имени которого отправляются сообщения.
type Author struct {
	ID       string
	Username string
}
