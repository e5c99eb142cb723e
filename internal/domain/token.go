package domain

// TokenKind — тип фрагмента текста сообщения.
type TokenKind string

const (
	TokenText    TokenKind = "text"
	TokenURL     TokenKind = "url"
	TokenMention TokenKind = "mention"
	TokenHashtag TokenKind = "hashtag"
	TokenEmail   TokenKind = "email"
	TokenIP      TokenKind = "ip"
)

// Token — типизированный фрагмент текста.
// Text всегда содержит исходный литерал, остальные поля заполняются в зависимости от Kind.
type Token struct {
	Kind     TokenKind `json:"type"`
	Text     string    `json:"text"`
	Href     string    `json:"href,omitempty"`
	Mailto   string    `json:"mailto,omitempty"`
	Username string    `json:"username,omitempty"`
	Tag      string    `json:"tag,omitempty"`
	IP       string    `json:"ip,omitempty"`
}

// DefaultDisplayLimit ограничивает длину отображаемой ссылки.
const DefaultDisplayLimit = 160

// Display возвращает текст для отображения, обрезая слишком длинные ссылки.
func (t Token) Display(limit int) string {
	if t.Kind != TokenURL || limit <= 3 {
		return t.Text
	}
	runes := []rune(t.Text)
	if len(runes) <= limit {
		return t.Text
	}
	return string(runes[:limit-3]) + "..."
}

// Preview — метаданные предпросмотра ссылки.
type Preview struct {
	Provider    string   `json:"provider,omitempty"`
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Images      []string `json:"images,omitempty"`
	HTML        string   `json:"html,omitempty"`
	MediaType   string   `json:"mediaType,omitempty"`
}
