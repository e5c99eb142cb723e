package tokenizer

import (
	"strings"
	"testing"
	"voxio-chat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func join(tokens []domain.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(t.Text)
	}
	return sb.String()
}

func TestTokenize(t *testing.T) {
	t.Run("Сценарий со всеми типами", func(t *testing.T) {
		in := "Check https://youtu.be/abc123 and email me at a@b.com #nice @bob"
		got := Tokenize(in)

		want := []domain.Token{
			{Kind: domain.TokenText, Text: "Check "},
			{Kind: domain.TokenURL, Text: "https://youtu.be/abc123", Href: "https://youtu.be/abc123"},
			{Kind: domain.TokenText, Text: " and email me at "},
			{Kind: domain.TokenEmail, Text: "a@b.com", Mailto: "mailto:a@b.com"},
			{Kind: domain.TokenText, Text: " "},
			{Kind: domain.TokenHashtag, Text: "#nice", Tag: "nice"},
			{Kind: domain.TokenText, Text: " "},
			{Kind: domain.TokenMention, Text: "@bob", Username: "bob"},
		}
		assert.Equal(t, want, got)
	})

	t.Run("Ссылка без схемы получает https", func(t *testing.T) {
		got := Tokenize("see www.example.com/path")
		require.Len(t, got, 2)
		assert.Equal(t, domain.TokenURL, got[1].Kind)
		assert.Equal(t, "www.example.com/path", got[1].Text)
		assert.Equal(t, "https://www.example.com/path", got[1].Href)
	})

	t.Run("Схема в верхнем регистре", func(t *testing.T) {
		got := Tokenize("HTTP://EXAMPLE.COM")
		require.Len(t, got, 1)
		assert.Equal(t, domain.TokenURL, got[0].Kind)
		assert.Equal(t, "HTTP://EXAMPLE.COM", got[0].Href)
	})

	t.Run("IPv4", func(t *testing.T) {
		got := Tokenize("ping 192.168.0.1 now")
		require.Len(t, got, 3)
		assert.Equal(t, domain.Token{Kind: domain.TokenIP, Text: "192.168.0.1", IP: "192.168.0.1", Href: "http://192.168.0.1"}, got[1])
	})

	t.Run("Юникодные упоминания и хэштеги", func(t *testing.T) {
		got := Tokenize("привет @иван #новости")
		require.Len(t, got, 4)
		assert.Equal(t, "иван", got[1].Username)
		assert.Equal(t, "новости", got[3].Tag)
	})

	t.Run("Одиночные @ и # остаются текстом", func(t *testing.T) {
		got := Tokenize("a @ b # c")
		require.Len(t, got, 1)
		assert.Equal(t, domain.TokenText, got[0].Kind)
	})

	t.Run("Пустая строка", func(t *testing.T) {
		assert.Empty(t, Tokenize(""))
	})

	t.Run("Только пробелы", func(t *testing.T) {
		got := Tokenize(" \t\n ")
		require.Len(t, got, 1)
		assert.Equal(t, domain.TokenText, got[0].Kind)
	})

	t.Run("Длинное слово без пробелов", func(t *testing.T) {
		in := "https://" + strings.Repeat("a", 10000)
		got := Tokenize(in)
		require.Len(t, got, 1)
		assert.Equal(t, in, got[0].Text)
	})

	t.Run("Конкатенация фрагментов равна входу", func(t *testing.T) {
		inputs := []string{
			"plain text",
			"@@@ ### ...",
			"mail: x.y+z@sub.domain.org, site: http://a.b/c?d=e#f",
			"10.0.0.1.5 and 999.999.999.999",
			"emoji 👍 #тег_1 @user.name-2",
			"<a href='www.x.y'>",
		}
		for _, in := range inputs {
			got := Tokenize(in)
			assert.Equal(t, in, join(got), in)
			for i := 1; i < len(got); i++ {
				assert.False(t, got[i].Kind == domain.TokenText && got[i-1].Kind == domain.TokenText,
					"соседние текстовые фрагменты должны быть склеены: %q", in)
			}
		}
	})
}

func TestURLs(t *testing.T) {
	tokens := Tokenize("a https://x.io b www.y.io c https://x.io")
	assert.Equal(t, []string{"https://x.io", "https://www.y.io"}, URLs(tokens))
}
