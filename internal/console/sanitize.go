package console

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// sanitize makes guest-supplied text safe to print on a single terminal
// line. Line breaks and tabs become spaces; other control characters and
// bidirectional overrides are dropped so a message cannot move the cursor
// or reorder the rest of the line.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r == utf8.RuneError && size == 1:
		case isProblematicRune(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	case unicode.IsControl(r):
		return true
	// Bidirectional embeddings and overrides.
	case r >= 0x202A && r <= 0x202E:
		return true
	// Bidirectional isolates.
	case r >= 0x2066 && r <= 0x2069:
		return true
	default:
		return false
	}
}
