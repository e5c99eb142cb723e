package ports

import (
	"context"
	"voxio-chat/internal/domain"
)

// MessageStore определяет интерфейс хранилища сообщений.
// Каждая сохраненная строка получает стабильный сравнимый идентификатор.
type MessageStore interface {
	// Insert сохраняет сообщение и возвращает сохраненную строку.
	Insert(ctx context.Context, msg domain.Message) (domain.Message, error)
	// Update применяет частичное изменение к строке с идентификатором id.
	Update(ctx context.Context, id domain.MessageID, patch domain.MessagePatch) error
	// Delete удаляет строку.
	Delete(ctx context.Context, id domain.MessageID) error
	// ListByRoom возвращает не более limit последних сообщений комнаты в порядке возрастания createdAt.
	ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	// Get выполняет точечный поиск сообщения, используется для снимка ответа.
	Get(ctx context.Context, id domain.MessageID) (domain.Message, error)
}

// UserDirectory определяет интерфейс поиска профилей пользователей.
type UserDirectory interface {
	Profile(ctx context.Context, userID string) (domain.Profile, error)
}

// Realtime определяет интерфейс канала доставки изменений.
type Realtime interface {
	// Subscribe открывает подписку на комнату. Пустой token означает анонимную подписку.
	// Готовность подписки сообщается событием со статусом SUBSCRIBED.
	Subscribe(ctx context.Context, roomID, token string) (Subscription, error)
}

// Subscription описывает отменяемую подписку на одну комнату.
type Subscription interface {
	// Events возвращает поток событий. Канал закрывается после Close или разрыва соединения.
	Events() <-chan domain.ChannelEvent
	// Send отправляет широковещательное событие остальным участникам комнаты.
	Send(ctx context.Context, b domain.Broadcast) error
	// Close завершает подписку.
	Close() error
}

// AttachmentStore определяет интерфейс хранилища вложений.
type AttachmentStore interface {
	// Upload загружает файл от имени пользователя и возвращает публичный URL.
	Upload(ctx context.Context, userID string, file domain.File) (string, error)
	// Remove удаляет ранее загруженный файл по публичному URL.
	Remove(ctx context.Context, publicURL string) error
}

// AttachmentSource определяет интерфейс получения файла вложения.
type AttachmentSource interface {
	Fetch() (domain.File, error)
}

// SessionProvider выдает токен текущей сессии.
type SessionProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Notifier доводит до пользователя ошибки оптимистичных операций.
type Notifier interface {
	NotifyFailure(op string, err error)
}

// PreviewFetcher определяет интерфейс сервиса предпросмотра ссылок.
type PreviewFetcher interface {
	Fetch(ctx context.Context, rawURL string) (domain.Preview, error)
}

// EnrichmentService превращает сырую строку канала в сообщение для отображения.
type EnrichmentService interface {
	Enrich(ctx context.Context, row domain.RawMessage) domain.Message
}

// ExtractionService извлекает из текста сообщения упоминания, хэштеги и ссылки.
type ExtractionService interface {
	Extract(content string) domain.Extracted
}

// RowParser разбирает JSON строки сообщения, пришедшей по каналу.
type RowParser interface {
	Parse(data []byte) (domain.RawMessage, error)
}

// Renderer определяет интерфейс вывода ленты сообщений.
type Renderer interface {
	Render(messages []domain.Message, typists []string) error
}
