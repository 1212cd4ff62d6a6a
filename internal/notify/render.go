package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"duebell/internal/reminder"
)

// Render turns a due notice into a platform-neutral message. Severity
// travels along so each channel can pick its own styling.
func Render(n reminder.Notice, now time.Time) Message {
	remaining := reminder.FormatRemaining(n.Remaining(now))

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", n.Assignment.Name)
	if n.Assignment.Course != "" {
		fmt.Fprintf(&b, "Course: %s\n", n.Assignment.Course)
	}
	fmt.Fprintf(&b, "Due: %s\n", n.Assignment.DueAt.UTC().Format("Monday, January 2 at 15:04 MST"))
	fmt.Fprintf(&b, "Time remaining: %s", remaining)
	if desc := summarize(n.Assignment.Description, 280); desc != "" {
		fmt.Fprintf(&b, "\n\n%s", desc)
	}

	return Message{
		Title:    fmt.Sprintf("⏰ Assignment due in %s", remaining),
		Body:     b.String(),
		Severity: n.Severity,
	}
}

// summarize strips rough HTML and caps the description length; Canvas
// descriptions arrive as HTML fragments.
func summarize(s string, maxLen int) string {
	s = stripTags(s)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	// Cut on a rune boundary: a byte slice through a multi-byte rune
	// produces invalid UTF-8 that the chat platforms reject or mangle.
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
