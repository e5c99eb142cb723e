package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"voxio-chat/internal/domain"
)

// messageEntity — строка таблицы messages.
type messageEntity struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	ClientID      string `gorm:"index"`
	RoomID        string `gorm:"index;not null"`
	UserID        string `gorm:"index;not null"`
	Content       string
	AttachmentURL string
	// Reactions хранит набор групп реакций как JSON.
	Reactions   string `gorm:"type:text;not null;default:'[]'"`
	IsEdited    bool   `gorm:"not null;default:false"`
	RepliedToID *uint64
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (messageEntity) TableName() string { return "messages" }

// userEntity соответствует строке таблицы users.
type userEntity struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"not null"`
	AvatarURL string
}

func (userEntity) TableName() string { return "users" }

func encodeReactions(groups []domain.Reaction) (string, error) {
	groups = domain.NormalizeReactions(groups)
	if groups == nil {
		return "[]", nil
	}
	data, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reactions: %w", err)
	}
	return string(data), nil
}

func decodeReactions(s string) ([]domain.Reaction, error) {
	if s == "" {
		return nil, nil
	}
	var groups []domain.Reaction
	if err := json.Unmarshal([]byte(s), &groups); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reactions: %w", err)
	}
	return domain.NormalizeReactions(groups), nil
}

// raw превращает строку таблицы в строку канала, как ее рассылает репликация.
func (e messageEntity) raw() (domain.RawMessage, error) {
	reactions, err := decodeReactions(e.Reactions)
	if err != nil {
		return domain.RawMessage{}, err
	}
	r := domain.RawMessage{
		ID:            domain.PersistedID(e.ID),
		ClientID:      e.ClientID,
		RoomID:        e.RoomID,
		Content:       e.Content,
		AuthorID:      e.UserID,
		CreatedAt:     e.CreatedAt.UTC(),
		AttachmentURL: e.AttachmentURL,
		Reactions:     reactions,
		IsEdited:      e.IsEdited,
	}
	if e.RepliedToID != nil {
		r.RepliedToID = domain.PersistedID(*e.RepliedToID)
	}
	return r, nil
}
