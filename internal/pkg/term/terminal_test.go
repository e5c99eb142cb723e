package term

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminal(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadLine печатает приглашение и убирает перевод строки", func(t *testing.T) {
		var out bytes.Buffer
		tm := New(strings.NewReader("hello\r\nworld"), &out)

		line, err := tm.ReadLine(ctx, "> ")
		require.NoError(t, err)
		assert.Equal(t, "hello", line)
		assert.Equal(t, "> ", out.String())

		line, err = tm.ReadLine(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "world", line)

		_, err = tm.ReadLine(ctx, "")
		assert.True(t, errors.Is(err, ErrClosed))
	})

	t.Run("Secret без терминала читает строку", func(t *testing.T) {
		var out bytes.Buffer
		tm := New(strings.NewReader("  token-123 \n"), &out)

		secret, err := tm.Secret(ctx, "Token: ")
		require.NoError(t, err)
		assert.Equal(t, "token-123", secret)
		assert.False(t, tm.Interactive())
	})

	t.Run("Ширина по умолчанию вне терминала", func(t *testing.T) {
		tm := New(strings.NewReader(""), &bytes.Buffer{})
		assert.Equal(t, DefaultWidth, tm.Width())
	})
}
