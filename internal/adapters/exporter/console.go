package exporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"voxio-chat/internal/core/tokenizer"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// Option настраивает ConsoleRenderer.
type Option func(*ConsoleRenderer)

// WithWidth задает ширину вывода.
func WithWidth(w int) Option {
	return func(r *ConsoleRenderer) {
		if w > 0 {
			r.width = w
		}
	}
}

// WithClock подменяет источник времени для относительных отметок.
func WithClock(now func() time.Time) Option {
	return func(r *ConsoleRenderer) {
		if now != nil {
			r.now = now
		}
	}
}

// WithPreviews подключает предпросмотры ссылок, уже полученные вызывающей стороной.
func WithPreviews(lookup func(url string) (domain.Preview, bool)) Option {
	return func(r *ConsoleRenderer) {
		r.previews = lookup
	}
}

// ConsoleRenderer реализует интерфейс Renderer для вывода ленты в текстовый поток.
type ConsoleRenderer struct {
	out      io.Writer
	width    int
	now      func() time.Time
	previews func(url string) (domain.Preview, bool)
}

// NewConsoleRenderer создает новый экземпляр ConsoleRenderer.
func NewConsoleRenderer(out io.Writer, opts ...Option) ports.Renderer {
	r := &ConsoleRenderer{
		out:   out,
		width: 80,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render выводит ленту сообщений и строку индикатора набора.
func (r *ConsoleRenderer) Render(messages []domain.Message, typists []string) error {
	var b strings.Builder
	b.WriteString(r.rule("messages"))
	if len(messages) == 0 {
		b.WriteString("No messages yet.\n")
	}
	for _, m := range messages {
		r.writeMessage(&b, m)
	}
	if line := domain.FormatTypingText(typists); line != "" {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(r.out, b.String())
	return err
}

func (r *ConsoleRenderer) writeMessage(b *strings.Builder, m domain.Message) {
	header := fmt.Sprintf("[%s] %s · %s", shortID(m.ID), m.AuthorUsername, humanize.RelTime(m.CreatedAt, r.now(), "ago", "from now"))
	if m.IsEdited {
		header += " (edited)"
	}
	if m.IsProvisional() {
		header += " (sending...)"
	}
	b.WriteString(header)
	b.WriteByte('\n')

	if m.RepliedTo != nil {
		fmt.Fprintf(b, "  ↪ %s: %s\n", m.RepliedTo.AuthorUsername, r.clip(m.RepliedTo.Content, r.width-8))
	}

	tokens := tokenizer.Tokenize(m.Content)
	if len(tokens) > 0 {
		b.WriteString("  ")
		b.WriteString(r.renderTokens(tokens))
		b.WriteByte('\n')
	}

	if m.AttachmentURL != "" {
		fmt.Fprintf(b, "  [%s] %s\n", m.AttachmentKind(), m.AttachmentURL)
	}

	if r.previews != nil {
		for _, u := range tokenizer.URLs(tokens) {
			p, ok := r.previews(u)
			if !ok || p.Title == "" {
				continue
			}
			line := p.Title
			if p.Provider != "" {
				line += " (" + p.Provider + ")"
			}
			fmt.Fprintf(b, "  🔗 %s\n", r.clip(line, r.width-6))
		}
	}

	if len(m.Reactions) > 0 {
		parts := make([]string, 0, len(m.Reactions))
		for _, g := range m.Reactions {
			parts = append(parts, fmt.Sprintf("%s %d", g.Emoji, g.Count))
		}
		b.WriteString("  ")
		b.WriteString(strings.Join(parts, "  "))
		b.WriteByte('\n')
	}
}

func (r *ConsoleRenderer) renderTokens(tokens []domain.Token) string {
	limit := domain.DefaultDisplayLimit
	if r.width-2 < limit {
		limit = r.width - 2
	}
	var b strings.Builder
	for _, t := range tokens {
		switch t.Kind {
		case domain.TokenURL:
			b.WriteString("<" + t.Display(limit) + ">")
		case domain.TokenEmail:
			b.WriteString("<" + t.Text + ">")
		default:
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func (r *ConsoleRenderer) rule(title string) string {
	label := " " + title + " "
	n := r.width - len([]rune(label))
	if n < 2 {
		return label + "\n"
	}
	left := n / 2
	return strings.Repeat("-", left) + label + strings.Repeat("-", n-left) + "\n"
}

func (r *ConsoleRenderer) clip(s string, limit int) string {
	runes := []rune(s)
	if limit <= 3 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

// shortID укорачивает временный идентификатор до последних цифр счетчика.
func shortID(id domain.MessageID) string {
	if !id.IsProvisional() {
		return id.String()
	}
	s := id.String()
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		return "~" + s[i+1:]
	}
	return s
}
