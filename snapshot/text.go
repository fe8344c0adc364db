package snapshot

import (
	"strings"
	"unicode/utf8"
)

// SanitizeCommand decodes a fixed-size command buffer as UTF-8, dropping
// invalid byte sequences and every NUL byte, wherever it occurs. Trailing
// spaces and tabs are trimmed.
func SanitizeCommand(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		raw = raw[size:]
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if r == 0 {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " \t")
}
