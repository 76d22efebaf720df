package chat

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// maxContentChars is the user-visible ceiling on message length.
	maxContentChars = 5000
	// rawContentCeiling flags suspiciously oversized input before it ever
	// reaches sanitization or compression.
	rawContentCeiling = 10000
)

var newlineRuns = regexp.MustCompile(`\n{4,}`)

// ValidateID checks that id is a syntactically valid UUID.
func ValidateID(field, id string) error {
	if id == "" {
		return validationError(field + " is required")
	}
	if err := uuid.Validate(id); err != nil {
		return validationError(field + " is not a valid id")
	}
	return nil
}

// ValidateContent checks structural constraints on a raw message body.
func ValidateContent(content string) error {
	if utf8.RuneCountInString(content) > rawContentCeiling {
		return validationError("message is too long")
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return validationError("message must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxContentChars {
		return validationError("message exceeds 5000 characters")
	}
	return nil
}

// Sanitize normalizes a message body before encryption: line endings become
// LF, control characters other than newline and tab are stripped, and runs of
// more than three consecutive newlines collapse to three. Runs on every
// inbound message regardless of transport, so stored ciphertext always
// reflects normalized text.
func Sanitize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	out := newlineRuns.ReplaceAllString(b.String(), "\n\n\n")
	return strings.TrimSpace(out)
}
