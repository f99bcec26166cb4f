package persist

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"github.com/strrl/chatdeck/internal/sessions"
	"github.com/strrl/chatdeck/pkg/models"
)

// SchemaVersion is the version written into every saved snapshot
const SchemaVersion = 1

var (
	// ErrUnsupportedVersion is returned for snapshots written by a newer format
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrMalformed is returned for content that is not a valid snapshot
	ErrMalformed = errors.New("malformed snapshot")
)

type envelope struct {
	Version  int             `json:"version"`
	ActiveID string          `json:"activeId,omitempty"`
	Sessions []sessionRecord `json:"sessions"`
}

type sessionRecord struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []messageRecord `json:"messages"`
	CreatedAt string          `json:"createdAt"`
}

type messageRecord struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Encode serializes a collection into the versioned snapshot format
func Encode(c models.Collection) (string, error) {
	env := envelope{
		Version:  SchemaVersion,
		ActiveID: c.ActiveID,
		Sessions: make([]sessionRecord, len(c.Sessions)),
	}
	for i, sess := range c.Sessions {
		rec := sessionRecord{
			ID:        sess.ID,
			Title:     sess.Title,
			Messages:  make([]messageRecord, len(sess.Messages)),
			CreatedAt: sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		for j, msg := range sess.Messages {
			rec.Messages[j] = messageRecord{
				ID:      msg.ID,
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}
		env.Sessions[i] = rec
	}

	data, err := sonic.ConfigStd.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return string(data), nil
}

// Decode parses a snapshot. Both the versioned envelope and the older bare
// array of sessions are accepted. Any invalid record fails the whole decode.
func Decode(blob string) (models.Collection, error) {
	data := bytes.TrimSpace([]byte(blob))
	if len(data) == 0 {
		return models.Collection{}, fmt.Errorf("%w: empty content", ErrMalformed)
	}

	var env envelope
	switch data[0] {
	case '[':
		if err := sonic.ConfigStd.Unmarshal(data, &env.Sessions); err != nil {
			return models.Collection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		if err := sonic.ConfigStd.Unmarshal(data, &env); err != nil {
			return models.Collection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Version != SchemaVersion {
			return models.Collection{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
		}
	default:
		return models.Collection{}, fmt.Errorf("%w: unexpected leading %q", ErrMalformed, data[0])
	}

	c := models.Collection{
		Sessions: make([]models.Session, 0, len(env.Sessions)),
		ActiveID: env.ActiveID,
	}
	for i, rec := range env.Sessions {
		sess, err := rec.toSession()
		if err != nil {
			return models.Collection{}, fmt.Errorf("%w: session %d: %v", ErrMalformed, i, err)
		}
		c.Sessions = append(c.Sessions, sess)
	}
	return c, nil
}

func (r sessionRecord) toSession() (models.Session, error) {
	if r.ID == "" {
		return models.Session{}, errors.New("missing id")
	}

	createdAt, err := parseCreatedAt(r.CreatedAt, r.ID)
	if err != nil {
		return models.Session{}, err
	}

	sess := models.Session{
		ID:        r.ID,
		Title:     r.Title,
		Messages:  make([]models.Message, len(r.Messages)),
		CreatedAt: createdAt,
	}
	seen := make(map[string]bool, len(r.Messages))
	for i, m := range r.Messages {
		role := models.Role(m.Role)
		if role != models.RoleUser && role != models.RoleAssistant {
			return models.Session{}, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		if m.ID == "" {
			return models.Session{}, fmt.Errorf("message %d: missing id", i)
		}
		if seen[m.ID] {
			return models.Session{}, fmt.Errorf("message %d: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		sess.Messages[i] = models.Message{ID: m.ID, Role: role, Content: m.Content}
	}
	return sess, nil
}

// parseCreatedAt reads an ISO-8601 timestamp. When it is absent the time is
// recovered from the id: either a ULID or a decimal millisecond clock value.
func parseCreatedAt(value, id string) (time.Time, error) {
	if value != "" {
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid createdAt %q: %w", value, err)
		}
		return t, nil
	}

	if t, ok := sessions.SessionTime(id); ok {
		return t, nil
	}
	if ms, err := strconv.ParseInt(id, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, errors.New("missing createdAt")
}
