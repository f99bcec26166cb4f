package models

import "time"

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a chat session's conversation
type Message struct {
	ID      string
	Role    Role
	Content string
}

// Session represents a single chat with its own message log
type Session struct {
	ID        string
	Title     string // Derived from the first user message
	Messages  []Message
	CreatedAt time.Time
}

// Summary is the read-only listing row for a session
type Summary struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	MessageCount int
}

// Collection is the ordered set of sessions plus the active selection.
// Sessions are kept newest first by insertion.
type Collection struct {
	Sessions []Session
	ActiveID string
}

// Clone returns a copy of the session that shares no message storage
func (s Session) Clone() Session {
	c := s
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		copy(c.Messages, s.Messages)
	}
	return c
}

// Summary returns the listing row for the session
func (s Session) Summary() Summary {
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		MessageCount: len(s.Messages),
	}
}

// Empty reports whether the collection holds no sessions
func (c Collection) Empty() bool {
	return len(c.Sessions) == 0
}

// Newest returns the most recently created session. Ties go to the earlier
// position, which is the later insertion.
func (c Collection) Newest() (Session, bool) {
	i := NewestIndex(c.Sessions)
	if i < 0 {
		return Session{}, false
	}
	return c.Sessions[i], true
}

// NewestIndex returns the index of the most recently created session, or -1
// for an empty slice
func NewestIndex(sessions []Session) int {
	if len(sessions) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(sessions); i++ {
		if sessions[i].CreatedAt.After(sessions[best].CreatedAt) {
			best = i
		}
	}
	return best
}
