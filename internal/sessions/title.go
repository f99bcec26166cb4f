package sessions

import (
	"github.com/strrl/chatdeck/pkg/models"
)

const (
	// DefaultTitle is shown for sessions without any user message yet
	DefaultTitle = "New Chat"

	// MaxTitleLength is the number of characters kept before truncation
	MaxTitleLength = 30

	truncationMarker = "..."
)

// DeriveTitle returns the display title for a message log: the first user
// message, cut to MaxTitleLength characters, or DefaultTitle.
func DeriveTitle(messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			return truncateTitle(msg.Content, MaxTitleLength)
		}
	}
	return DefaultTitle
}

// truncateTitle truncates s to maxLen characters (not bytes)
func truncateTitle(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + truncationMarker
}
