package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// ErrMissingID возвращается, если у строки нет идентификатора.
var ErrMissingID = errors.New("row has no id")

// Форматы отметок времени, которые встречаются в строках хранилища.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// JsonParser разбирает JSON строки сообщения.
// Идентификаторы принимаются как строкой, так и числом,
// реакции как массивом, так и строкой с JSON внутри.
type JsonParser struct{}

// NewJsonParser создает новый экземпляр JsonParser.
func NewJsonParser() ports.RowParser {
	return &JsonParser{}
}

type rawRow struct {
	ID            flexID          `json:"id"`
	ClientID      string          `json:"client_id"`
	RoomID        flexID          `json:"room_id"`
	Content       *string         `json:"content"`
	UserID        flexID          `json:"user_id"`
	Username      string          `json:"username"`
	CreatedAt     string          `json:"created_at"`
	AttachmentURL *string         `json:"attachment_url"`
	Reactions     json.RawMessage `json:"reactions"`
	IsEdited      bool            `json:"is_edited"`
	RepliedToID   flexID          `json:"replied_to_id"`
}

// Parse преобразует срез байт с JSON в строку сообщения.
func (p *JsonParser) Parse(data []byte) (domain.RawMessage, error) {
	var row rawRow
	if err := json.Unmarshal(data, &row); err != nil {
		return domain.RawMessage{}, fmt.Errorf("failed to unmarshal row: %w", err)
	}
	if row.ID == "" {
		return domain.RawMessage{}, ErrMissingID
	}

	out := domain.RawMessage{
		ID:          domain.MessageID(row.ID),
		ClientID:    row.ClientID,
		RoomID:      string(row.RoomID),
		AuthorID:    string(row.UserID),
		Username:    row.Username,
		IsEdited:    row.IsEdited,
		RepliedToID: domain.MessageID(row.RepliedToID),
	}
	if row.Content != nil {
		out.Content = *row.Content
	}
	if row.AttachmentURL != nil {
		out.AttachmentURL = *row.AttachmentURL
	}

	if row.CreatedAt != "" {
		ts, err := ParseTime(row.CreatedAt)
		if err != nil {
			return domain.RawMessage{}, err
		}
		out.CreatedAt = ts
	}

	reactions, err := parseReactions(row.Reactions)
	if err != nil {
		return domain.RawMessage{}, err
	}
	out.Reactions = domain.NormalizeReactions(reactions)

	return out, nil
}

// ParseTime разбирает отметку времени в одном из известных форматов.
// Значения без часового пояса считаются UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

func parseReactions(data json.RawMessage) ([]domain.Reaction, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	// jsonb, сохраненный как текст, приходит строкой.
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reactions: %w", err)
		}
		if inner == "" {
			return nil, nil
		}
		data = []byte(inner)
	}
	var groups []domain.Reaction
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reactions: %w", err)
	}
	return groups, nil
}

// flexID принимает идентификатор строкой или числом.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be string or number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	*f = flexID(n.String())
	return nil
}
