package domain

import (
	"fmt"
	"strings"
)

// FormatTypingText формирует строку индикатора набора текста.
func FormatTypingText(users []string) string {
	switch n := len(users); {
	case n == 0:
		return ""
	case n == 1:
		return fmt.Sprintf("%s is typing...", users[0])
	case n == 2:
		return fmt.Sprintf("%s and %s are typing...", users[0], users[1])
	default:
		others := "others"
		if n-2 == 1 {
			others = "other"
		}
		return fmt.Sprintf("%s and %d %s are typing...", strings.Join(users[:2], ", "), n-2, others)
	}
}
