// Package tokenizer разбивает текст сообщения на типизированные фрагменты:
// ссылки, упоминания, хэштеги, адреса почты и IPv4.
package tokenizer

import (
	"regexp"
	"strings"
	"voxio-chat/internal/domain"
)

// Альтернативы перечислены в порядке приоритета. При совпадении в одной позиции
// побеждает та, что стоит раньше.
const (
	urlWithScheme = `(https?://[^\s<>"'` + "`" + `]+)`
	urlWWW        = `(www\.[^\s<>"'` + "`" + `]+)`
	email         = `([a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})`
	mention       = `(@[\p{L}\p{N}_\-.]+)`
	hashtag       = `(#[\p{L}\p{N}_\-]+)`
	ipv4          = `(\b(?:\d{1,3}\.){3}\d{1,3}\b)`
)

var master = regexp.MustCompile(`(?i)` + strings.Join([]string{
	urlWithScheme, urlWWW, email, mention, hashtag, ipv4,
}, "|"))

// Порядок совпадает с порядком групп в master.
var groupKinds = [...]domain.TokenKind{
	domain.TokenURL,
	domain.TokenURL,
	domain.TokenEmail,
	domain.TokenMention,
	domain.TokenHashtag,
	domain.TokenIP,
}

// Tokenize разбивает text на фрагменты слева направо.
// Фрагменты покрывают вход целиком без пропусков и перекрытий,
// соседние текстовые фрагменты склеиваются.
func Tokenize(text string) []domain.Token {
	if text == "" {
		return nil
	}

	var tokens []domain.Token
	last := 0
	for _, loc := range master.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > last {
			tokens = appendText(tokens, text[last:start])
		}
		tokens = append(tokens, classify(text[start:end], loc))
		last = end
	}
	if last < len(text) {
		tokens = appendText(tokens, text[last:])
	}
	return tokens
}

// URLs возвращает href всех ссылок в порядке появления, без повторов.
func URLs(tokens []domain.Token) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, t := range tokens {
		if t.Kind != domain.TokenURL {
			continue
		}
		if _, ok := seen[t.Href]; ok {
			continue
		}
		seen[t.Href] = struct{}{}
		out = append(out, t.Href)
	}
	return out
}

func classify(match string, loc []int) domain.Token {
	kind := domain.TokenText
	for g := range groupKinds {
		if loc[2+2*g] >= 0 {
			kind = groupKinds[g]
			break
		}
	}

	t := domain.Token{Kind: kind, Text: match}
	switch kind {
	case domain.TokenURL:
		t.Href = absolutize(match)
	case domain.TokenEmail:
		t.Mailto = "mailto:" + match
	case domain.TokenMention:
		t.Username = strings.TrimPrefix(match, "@")
	case domain.TokenHashtag:
		t.Tag = strings.TrimPrefix(match, "#")
	case domain.TokenIP:
		t.IP = match
		t.Href = "http://" + match
	}
	return t
}

func absolutize(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

func appendText(tokens []domain.Token, s string) []domain.Token {
	if n := len(tokens); n > 0 && tokens[n-1].Kind == domain.TokenText {
		tokens[n-1].Text += s
		return tokens
	}
	return append(tokens, domain.Token{Kind: domain.TokenText, Text: s})
}
