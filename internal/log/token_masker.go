package log

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// TokenMaskerHandler - обертка для slog.Handler, которая маскирует токены в логах
type TokenMaskerHandler struct {
	handler slog.Handler
}

// NewTokenMaskerHandler создает новый обработчик с маскировкой токенов
func NewTokenMaskerHandler(handler slog.Handler) *TokenMaskerHandler {
	return &TokenMaskerHandler{
		handler: handler,
	}
}

// Правила маскировки применяются по порядку.
var maskRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	// Значения секретов в строке запроса: apikey=..., access_token=...
	{regexp.MustCompile(`(?i)\b(apikey|api_key|access_token|refresh_token|token)=([^&\s"']+)`), "$1=***"},
	// Заголовок Authorization
	{regexp.MustCompile(`(?i)\b(Bearer\s+)[A-Za-z0-9._~+/=-]+`), "${1}***"},
	// JWT из трех base64url-частей
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "***masked-jwt***"},
	// Ключи платформы в новом формате
	{regexp.MustCompile(`\bsb_(publishable|secret)_[A-Za-z0-9_-]{8,}`), "sb_${1}_***"},
}

// Значения этих атрибутов скрываются целиком.
var secretKeys = map[string]struct{}{
	"api_key":      {},
	"apikey":       {},
	"access_token": {},
	"token":        {},
	"password":     {},
	"secret":       {},
}

// maskTokens заменяет найденные токены на маску
func maskTokens(text string) string {
	for _, rule := range maskRules {
		text = rule.re.ReplaceAllString(text, rule.repl)
	}
	return text
}

// maskAttr маскирует атрибут по ключу или по содержимому
func maskAttr(a slog.Attr) slog.Attr {
	if _, secret := secretKeys[strings.ToLower(a.Key)]; secret && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, "***")
	}
	return slog.Attr{Key: a.Key, Value: maskAttributeValue(a.Value)}
}

// Enabled реализует интерфейс slog.Handler
func (h *TokenMaskerHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle реализует интерфейс slog.Handler
func (h *TokenMaskerHandler) Handle(ctx context.Context, record slog.Record) error {
	// Новая запись вместо Clone: клон сохранил бы исходные атрибуты рядом с маскированными.
	r := slog.NewRecord(record.Time, record.Level, maskTokens(record.Message), record.PC)

	record.Attrs(func(a slog.Attr) bool {
		r.AddAttrs(maskAttr(a))
		return true
	})

	return h.handler.Handle(ctx, r)
}

// WithAttrs реализует интерфейс slog.Handler
func (h *TokenMaskerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	maskedAttrs := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		maskedAttrs[i] = maskAttr(attr)
	}
	return &TokenMaskerHandler{
		handler: h.handler.WithAttrs(maskedAttrs),
	}
}

// WithGroup реализует интерфейс slog.Handler
func (h *TokenMaskerHandler) WithGroup(name string) slog.Handler {
	return &TokenMaskerHandler{
		handler: h.handler.WithGroup(name),
	}
}

// maskAttributeValue рекурсивно маскирует значения атрибутов
func maskAttributeValue(value slog.Value) slog.Value {
	switch value.Kind() {
	case slog.KindString:
		return slog.StringValue(maskTokens(value.String()))
	case slog.KindAny:
		// Ошибки часто содержат URL запроса вместе с ключом.
		if err, ok := value.Any().(error); ok {
			return slog.StringValue(maskTokens(err.Error()))
		}
		return value
	case slog.KindGroup:
		group := value.Group()
		maskedGroup := make([]slog.Attr, len(group))
		for i, attr := range group {
			maskedGroup[i] = maskAttr(attr)
		}
		return slog.GroupValue(maskedGroup...)
	default:
		// Для других типов возвращаем оригинальное значение
		return value
	}
}

// NewMaskedLogger создает новый экземпляр slog.Logger с маскировкой токенов
func NewMaskedLogger(handler slog.Handler) *slog.Logger {
	return slog.New(NewTokenMaskerHandler(handler))
}
