package ui

import (
	"fmt"
	"strings"
)

// LineKind classifies a received frame for display
type LineKind int

const (
	LineChat   LineKind = iota // "author: text"
	LineSystem                 // joins, departures and client notices
	LineReply                  // command output and other server text
	LineError
)

// Line is one entry in the chat pane
type Line struct {
	Kind   LineKind
	Author string
	Text   string
}

// parseLine classifies a server frame. Chat broadcasts are "author: text";
// the author is whatever precedes the first ": " on a single-line prefix.
func parseLine(text string) Line {
	if strings.HasSuffix(text, " joined the chat.") || strings.HasSuffix(text, " left the chat.") {
		return Line{Kind: LineSystem, Text: text}
	}

	if author, body, ok := strings.Cut(text, ": "); ok && author != "" && !strings.ContainsAny(author, "\n") && !isReplyPrefix(author) {
		return Line{Kind: LineChat, Author: author, Text: body}
	}

	return Line{Kind: LineReply, Text: text}
}

// isReplyPrefix reports server replies that happen to contain ": "
func isReplyPrefix(prefix string) bool {
	switch prefix {
	case "File not found", "Could not read file", "Invalid history count", "Unknown command":
		return true
	}
	return strings.HasPrefix(prefix, "Invalid command.")
}

// mentions reports whether text addresses username as @username
func mentions(text, username string) bool {
	if username == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(username))
}

// formatBytes renders a byte count for status lines
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// renderLine styles one line for the chat pane
func renderLine(l Line, username string) string {
	switch l.Kind {
	case LineChat:
		authorStyle := MessageAuthorStyle
		if l.Author == username {
			authorStyle = OwnAuthorStyle
		}
		content := MessageContentStyle.Render(l.Text)
		if l.Author != username && mentions(l.Text, username) {
			content = MentionStyle.Render(l.Text)
		}
		return authorStyle.Render(l.Author) + ": " + content
	case LineSystem:
		return SystemStyle.Render(l.Text)
	case LineError:
		return ErrorStyle.Render(l.Text)
	default:
		return ServerReplyStyle.Render(strings.TrimSuffix(l.Text, "\n"))
	}
}
