package domain

import (
	"encoding/json"
	"time"
)

// ChangeKind — тип изменения строки в таблице сообщений.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// RawMessage — строка сообщения в том виде, в каком ее присылает канал:
// только внешние ключи, без профиля автора и снимка ответа.
type RawMessage struct {
	ID            MessageID  `json:"id"`
	ClientID      string     `json:"client_id,omitempty"`
	RoomID        string     `json:"room_id"`
	Content       string     `json:"content"`
	AuthorID      string     `json:"user_id"`
	Username      string     `json:"username"`
	CreatedAt     time.Time  `json:"created_at"`
	AttachmentURL string     `json:"attachment_url,omitempty"`
	Reactions     []Reaction `json:"reactions"`
	IsEdited      bool       `json:"is_edited"`
	RepliedToID   MessageID  `json:"replied_to_id,omitempty"`
}

// Message превращает сырую строку в сообщение без обогащения.
func (r RawMessage) Message() Message {
	return Message{
		ID:             r.ID,
		ClientID:       r.ClientID,
		RoomID:         r.RoomID,
		Content:        r.Content,
		AuthorID:       r.AuthorID,
		AuthorUsername: r.Username,
		CreatedAt:      r.CreatedAt,
		AttachmentURL:  r.AttachmentURL,
		Reactions:      NormalizeReactions(r.Reactions),
		IsEdited:       r.IsEdited,
		RepliedToID:    r.RepliedToID,
	}
}

// RowChange — изменение строки, привязанное к комнате.
// Для DELETE заполнен только OldID.
type RowChange struct {
	Kind  ChangeKind
	Row   RawMessage
	OldID MessageID
}

// Broadcast — произвольное широковещательное событие канала.
type Broadcast struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Имя широковещательного события набора текста.
const TypingEventName = "typing"

// TypingEvent — полезная нагрузка события "typing".
type TypingEvent struct {
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

// UnmarshalJSON принимает как isTyping, так и is_typing.
func (e *TypingEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		User        string `json:"user"`
		IsTyping    *bool  `json:"isTyping"`
		IsTypingAlt *bool  `json:"is_typing"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.User = raw.User
	switch {
	case raw.IsTyping != nil:
		e.IsTyping = *raw.IsTyping
	case raw.IsTypingAlt != nil:
		e.IsTyping = *raw.IsTypingAlt
	default:
		e.IsTyping = false
	}
	return nil
}

// SubscriptionStatus — состояние подписки на канал.
type SubscriptionStatus string

const (
	StatusJoining    SubscriptionStatus = "JOINING"
	StatusSubscribed SubscriptionStatus = "SUBSCRIBED"
	StatusError      SubscriptionStatus = "CHANNEL_ERROR"
	StatusClosed     SubscriptionStatus = "CLOSED"
)

// ChannelEvent — размеченное объединение событий подписки.
// Заполнено ровно одно из полей Change, Broadcast, Status.
type ChannelEvent struct {
	Change    *RowChange
	Broadcast *Broadcast
	Status    SubscriptionStatus
}
