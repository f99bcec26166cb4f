// Package bridge keeps the session store consistent with the streaming
// engine. Every engine update is folded into the store under the session id
// that owns the conversation, so a reply keeps its attribution even when the
// user switches sessions while it streams.
package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strrl/chatdeck/internal/engine"
	"github.com/strrl/chatdeck/internal/persist"
	"github.com/strrl/chatdeck/internal/sessions"
	"github.com/strrl/chatdeck/pkg/models"
)

// closeWait bounds how long Close waits for cancelled responses to settle
const closeWait = 5 * time.Second

var (
	// ErrNotReady is returned for sends issued before Start completes
	ErrNotReady = errors.New("chat is still starting")

	// ErrBusy is returned when the active session is still streaming
	ErrBusy = engine.ErrBusy
)

// Bridge is the single entry point the presentation layer uses
type Bridge struct {
	store   *sessions.Store
	engine  *engine.Engine
	adapter *persist.Adapter
	logger  *zap.Logger

	mu     sync.Mutex
	ready  bool
	unsubs map[string]func()
	notify func()
}

// Option configures a Bridge
type Option func(*Bridge)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithNotify sets the hook called after every visible change
func WithNotify(fn func()) Option {
	return func(b *Bridge) { b.notify = fn }
}

func New(store *sessions.Store, eng *engine.Engine, adapter *persist.Adapter, opts ...Option) *Bridge {
	b := &Bridge{
		store:   store,
		engine:  eng,
		adapter: adapter,
		logger:  zap.NewNop(),
		unsubs:  make(map[string]func()),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetNotify replaces the change hook
func (b *Bridge) SetNotify(fn func()) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

// Start restores persisted sessions, selects the active one and seeds its
// conversation with the stored history. Sends are refused until it returns.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.store.Begin(); err != nil {
		return err
	}

	c, err := b.adapter.Load(ctx)
	if err != nil {
		return err
	}
	if err := b.store.Restore(c); err != nil {
		return err
	}

	b.seed(b.store.ActiveID())

	b.mu.Lock()
	b.ready = true
	b.mu.Unlock()

	b.logger.Info("chat ready",
		zap.Int("sessions", b.store.Len()),
		zap.String("active_id", b.store.ActiveID()))
	b.changed()
	return nil
}

// Ready reports whether Start has completed
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Send submits prompt to the active session and returns that session's id.
// Whitespace-only prompts are ignored.
func (b *Bridge) Send(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", nil
	}
	if !b.Ready() {
		return "", ErrNotReady
	}

	id := b.store.ActiveID()
	conv := b.conversation(id)
	if err := conv.Send(ctx, prompt); err != nil {
		return id, err
	}
	b.store.SetPendingInput("")
	return id, nil
}

// SwitchTo activates id and loads its messages as the live view.
// Unknown ids are ignored.
func (b *Bridge) SwitchTo(id string) bool {
	if !b.store.SwitchTo(id) {
		return false
	}
	b.seed(id)
	b.changed()
	return true
}

// New creates and activates an empty session
func (b *Bridge) New() models.Session {
	sess := b.store.CreateSession()
	b.seed(sess.ID)
	b.changed()
	return sess
}

// Delete removes a session, stopping any response it is streaming
func (b *Bridge) Delete(id string) {
	b.mu.Lock()
	unsub, ok := b.unsubs[id]
	delete(b.unsubs, id)
	b.mu.Unlock()
	if ok {
		unsub()
	}
	b.engine.Drop(id)

	b.store.DeleteSession(id)
	b.seed(b.store.ActiveID())
	b.changed()
}

// Stop cancels the active session's response, keeping partial content
func (b *Bridge) Stop() {
	if conv, ok := b.engine.Lookup(b.store.ActiveID()); ok {
		conv.Stop()
	}
}

// Live returns the active session's current message sequence
func (b *Bridge) Live() []models.Message {
	id := b.store.ActiveID()
	if conv, ok := b.engine.Lookup(id); ok {
		return conv.Messages()
	}
	sess, _ := b.store.Get(id)
	return sess.Messages
}

// Busy reports whether the active session is streaming
func (b *Bridge) Busy() bool {
	if conv, ok := b.engine.Lookup(b.store.ActiveID()); ok {
		return conv.Busy()
	}
	return false
}

// Err returns the error that ended the active session's last response
func (b *Bridge) Err() error {
	if conv, ok := b.engine.Lookup(b.store.ActiveID()); ok {
		return conv.Err()
	}
	return nil
}

// Done returns a channel closed when the session's current response ends.
// Sessions without a conversation are idle, so their channel is already
// closed.
func (b *Bridge) Done(id string) <-chan struct{} {
	if conv, ok := b.engine.Lookup(id); ok {
		return conv.Done()
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Enumerate lists sessions for display
func (b *Bridge) Enumerate() []models.Summary {
	return b.store.Enumerate()
}

// ActiveID returns the active session id
func (b *Bridge) ActiveID() string {
	return b.store.ActiveID()
}

// Active returns the active session as stored
func (b *Bridge) Active() (models.Session, bool) {
	return b.store.Active()
}

// PendingInput returns the unsent composer text
func (b *Bridge) PendingInput() string {
	return b.store.PendingInput()
}

// SetPendingInput records the unsent composer text
func (b *Bridge) SetPendingInput(text string) {
	b.store.SetPendingInput(text)
}

// Close cancels every in-flight response and waits, up to closeWait, for
// their final updates to reach the store.
func (b *Bridge) Close() {
	b.engine.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), closeWait)
	defer cancel()
	if err := b.engine.Wait(ctx); err != nil {
		b.logger.Warn("responses still streaming at close", zap.Error(err))
	}
}

// conversation returns the engine conversation for id, subscribing the
// store to it on first use. The subscription is bound to id, not to
// whichever session is active when an update arrives.
func (b *Bridge) conversation(id string) *engine.Conversation {
	conv := b.engine.Conversation(id)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.unsubs[id]; !ok {
		b.unsubs[id] = conv.Subscribe(func(u engine.Update) {
			b.record(id, u)
		})
	}
	return conv
}

func (b *Bridge) record(id string, u engine.Update) {
	if err := b.store.RecordMessages(id, u.Messages); err != nil {
		b.logger.Error("failed to record messages",
			zap.String("session_id", id),
			zap.Error(err))
	}
	b.changed()
}

// seed loads the stored messages of id into its conversation, unless the
// conversation is streaming and its live buffer is newer
func (b *Bridge) seed(id string) {
	if id == "" {
		return
	}
	sess, ok := b.store.Get(id)
	if !ok {
		return
	}
	conv := b.conversation(id)
	if err := conv.SetMessages(sess.Messages); err != nil {
		b.logger.Debug("keeping live buffer of streaming session", zap.String("session_id", id))
	}
}

func (b *Bridge) changed() {
	b.mu.Lock()
	fn := b.notify
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}
