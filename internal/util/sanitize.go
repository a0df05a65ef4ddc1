package util

import (
	"regexp"
	"strings"
	"unicode"
)

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\s]+`)

const maxLabelRunes = 64

// ArtifactLabel turns a user supplied label into a fragment that is safe to
// embed in an artifact file name. It returns "" when nothing usable remains.
func ArtifactLabel(label string) string {
	builder := strings.Builder{}
	builder.Grow(len(label))

	for _, char := range strings.TrimSpace(label) {
		if unicode.IsControl(char) || isInvisibleUnicode(char) {
			continue
		}
		builder.WriteRune(char)
	}

	cleaned := unsafeNameChars.ReplaceAllString(builder.String(), "_")
	cleaned = strings.Trim(cleaned, "._-")

	// Truncate by runes to avoid splitting multi-byte characters.
	runes := []rune(cleaned)
	if len(runes) > maxLabelRunes {
		runes = runes[:maxLabelRunes]
	}
	return strings.ToLower(string(runes))
}

// isInvisibleUnicode reports zero-width and other format characters.
func isInvisibleUnicode(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\u200E', '\u200F', '\u2060', '\uFEFF':
		return true
	}
	return unicode.Is(unicode.Cf, r)
}
