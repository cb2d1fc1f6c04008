// Package redact strips contact details from free text before it leaves the
// process or lands in a stored summary.
package redact

import "regexp"

const (
	EmailPlaceholder = "[email]"
	PhonePlaceholder = "[phone]"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// 9+ digits, optional leading '+', single spaces or dashes between digits.
	phonePattern = regexp.MustCompile(`\+?\d(?:[ \-]?\d){8,}`)
)

// Redact replaces email addresses and long digit runs with fixed placeholders.
// Placeholders contain neither '@' nor digits, so Redact(Redact(x)) == Redact(x).
func Redact(text string) string {
	if text == "" {
		return text
	}
	out := emailPattern.ReplaceAllLiteralString(text, EmailPlaceholder)
	return phonePattern.ReplaceAllLiteralString(out, PhonePlaceholder)
}

// All redacts every element of items into a new slice.
func All(items []string) []string {
	if len(items) == 0 {
		return items
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = Redact(item)
	}
	return out
}
