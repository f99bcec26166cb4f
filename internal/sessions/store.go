package sessions

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strrl/chatdeck/pkg/models"
)

var (
	// ErrNotReady is returned by mutations that require a completed startup
	ErrNotReady = errors.New("session store is not ready")

	// ErrInvalidPhase is returned when a startup step is called out of order
	ErrInvalidPhase = errors.New("invalid startup phase")
)

// Phase is the startup state of a Store
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseRestored
	PhaseEmpty
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseRestored:
		return "restored"
	case PhaseEmpty:
		return "empty"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Op names the mutation that produced a Change
type Op string

const (
	OpCreate  Op = "create"
	OpSwitch  Op = "switch"
	OpDelete  Op = "delete"
	OpUpdate  Op = "update"
	OpRestore Op = "restore"
)

// Change describes a store mutation. Listeners read the resulting state
// back from the store; a Change never carries session data.
type Change struct {
	Op        Op
	SessionID string
}

// Store owns the session collection and the active selection.
// All mutations go through its methods. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	sessions  []models.Session
	activeID  string
	pending   string
	phase     Phase
	listeners []func(Change)

	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for createdAt
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the session id source
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewStore creates an empty store in the uninitialized phase
func NewStore(opts ...Option) *Store {
	s := &Store{
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  NewSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers a listener called after every mutation.
// Listeners run outside the store lock, on the mutating goroutine.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(changes ...Change) {
	s.mu.RLock()
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

// Phase returns the current startup phase
func (s *Store) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Ready reports whether startup has completed
func (s *Store) Ready() bool {
	return s.Phase() == PhaseReady
}

// Begin moves an uninitialized store into the loading phase
func (s *Store) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseUninitialized {
		return fmt.Errorf("%w: begin called in phase %s", ErrInvalidPhase, s.phase)
	}
	s.phase = PhaseLoading
	return nil
}

// Restore completes startup with a loaded collection. Sessions with empty or
// duplicate ids, or with repeated message ids, are dropped. If nothing usable remains a fresh session is
// created; otherwise the most recently created session becomes active.
func (s *Store) Restore(c models.Collection) error {
	s.mu.Lock()
	if s.phase != PhaseLoading {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: restore called in phase %s", ErrInvalidPhase, phase)
	}

	seen := make(map[string]bool, len(c.Sessions))
	restored := make([]models.Session, 0, len(c.Sessions))
	for _, sess := range c.Sessions {
		if sess.ID == "" || seen[sess.ID] || checkMessageIDs(sess.Messages) != nil {
			s.logger.Warn("dropping unusable session from restore", zap.String("session_id", sess.ID))
			continue
		}
		seen[sess.ID] = true
		sess = sess.Clone()
		sess.Title = DeriveTitle(sess.Messages)
		restored = append(restored, sess)
	}

	if len(restored) == 0 {
		s.phase = PhaseEmpty
		s.mu.Unlock()

		s.logger.Debug("no sessions restored, creating a fresh one")
		created := s.CreateSession()

		s.mu.Lock()
		s.phase = PhaseReady
		s.mu.Unlock()
		s.notify(Change{Op: OpRestore, SessionID: created.ID})
		return nil
	}

	s.phase = PhaseRestored
	s.sessions = restored
	s.activeID = restored[models.NewestIndex(restored)].ID
	s.pending = ""
	s.phase = PhaseReady
	activeID := s.activeID
	s.mu.Unlock()

	s.logger.Debug("sessions restored",
		zap.Int("count", len(restored)),
		zap.String("active_id", activeID))
	s.notify(Change{Op: OpRestore, SessionID: activeID})
	return nil
}

// CreateSession inserts a new empty session at the front of the collection,
// makes it active and clears any pending input.
func (s *Store) CreateSession() models.Session {
	s.mu.Lock()
	sess := s.createLocked()
	s.mu.Unlock()

	s.notify(Change{Op: OpCreate, SessionID: sess.ID})
	return sess.Clone()
}

func (s *Store) createLocked() models.Session {
	sess := models.Session{
		ID:        s.newID(),
		Title:     DefaultTitle,
		Messages:  []models.Message{},
		CreatedAt: s.now(),
	}
	s.sessions = append([]models.Session{sess}, s.sessions...)
	s.activeID = sess.ID
	s.pending = ""

	s.logger.Debug("session created", zap.String("session_id", sess.ID))
	return sess
}

// SwitchTo makes id the active session and clears pending input.
// Unknown ids are ignored; the return value reports whether id exists.
func (s *Store) SwitchTo(id string) bool {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		s.logger.Debug("switch to unknown session ignored", zap.String("session_id", id))
		return false
	}
	s.activeID = id
	s.pending = ""
	s.mu.Unlock()

	s.notify(Change{Op: OpSwitch, SessionID: id})
	return true
}

// DeleteSession removes a session. When the active session is removed the
// most recently created remaining session becomes active, or a new session
// is created if none remain. Unknown ids are ignored.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Debug("delete of unknown session ignored", zap.String("session_id", id))
		return
	}

	s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)
	changes := []Change{{Op: OpDelete, SessionID: id}}

	if s.activeID == id {
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[models.NewestIndex(s.sessions)].ID
			s.pending = ""
			changes = append(changes, Change{Op: OpSwitch, SessionID: s.activeID})
		} else {
			created := s.createLocked()
			changes = append(changes, Change{Op: OpCreate, SessionID: created.ID})
		}
	}
	s.mu.Unlock()

	s.logger.Debug("session deleted", zap.String("session_id", id))
	s.notify(changes...)
}

// RecordMessages replaces the message log of a session and recomputes its
// title. Recording an identical log is a no-op. Unknown ids are ignored so
// late updates for deleted sessions are dropped.
func (s *Store) RecordMessages(id string, messages []models.Message) error {
	if err := checkMessageIDs(messages); err != nil {
		return err
	}

	s.mu.Lock()
	if s.phase != PhaseReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	if messagesEqual(s.sessions[idx].Messages, messages) {
		s.mu.Unlock()
		return nil
	}

	stored := make([]models.Message, len(messages))
	copy(stored, messages)
	s.sessions[idx].Messages = stored
	s.sessions[idx].Title = DeriveTitle(stored)
	s.mu.Unlock()

	s.notify(Change{Op: OpUpdate, SessionID: id})
	return nil
}

// Enumerate lists session summaries in collection order
func (s *Store) Enumerate() []models.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]models.Summary, len(s.sessions))
	for i, sess := range s.sessions {
		summaries[i] = sess.Summary()
	}
	return summaries
}

// ActiveID returns the id of the active session, or "" before startup
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns a copy of the active session
func (s *Store) Active() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(s.activeID)
}

// Get returns a copy of the session with the given id
func (s *Store) Get(id string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

// Len returns the number of sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot returns a deep copy of the collection as it is now
func (s *Store) Snapshot() models.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := models.Collection{
		Sessions: make([]models.Session, len(s.sessions)),
		ActiveID: s.activeID,
	}
	for i, sess := range s.sessions {
		c.Sessions[i] = sess.Clone()
	}
	return c
}

// PendingInput returns the unsent composer text
func (s *Store) PendingInput() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// SetPendingInput stores the unsent composer text
func (s *Store) SetPendingInput(text string) {
	s.mu.Lock()
	s.pending = text
	s.mu.Unlock()
}

func (s *Store) getLocked(id string) (models.Session, bool) {
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Session{}, false
	}
	return s.sessions[idx].Clone(), true
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func messagesEqual(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkMessageIDs(messages []models.Message) error {
	seen := make(map[string]bool, len(messages))
	for _, msg := range messages {
		if seen[msg.ID] {
			return fmt.Errorf("duplicate message id %q", msg.ID)
		}
		seen[msg.ID] = true
	}
	return nil
}
