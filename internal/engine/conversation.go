package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/strrl/chatdeck/internal/provider"
	"github.com/strrl/chatdeck/pkg/models"
)

// Conversation is the live message buffer of one chat plus its in-flight
// response, if any. It is safe for concurrent use.
type Conversation struct {
	id     string
	engine *Engine

	mu       sync.Mutex
	messages []models.Message
	busy     bool
	err      error
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
	subs     map[int]func(Update)
	nextSub  int
}

// ID returns the conversation id
func (c *Conversation) ID() string {
	return c.id
}

// SetMessages replaces the buffer, seeding history for the next exchange.
// It fails with ErrBusy while a response is streaming.
func (c *Conversation) SetMessages(messages []models.Message) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.messages = make([]models.Message, len(messages))
	copy(c.messages, messages)
	c.err = nil
	c.mu.Unlock()
	return nil
}

// Messages returns a copy of the current buffer
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked()
}

// Busy reports whether a response is streaming
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Err returns the error that ended the last exchange, if any
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done returns a channel closed when the current exchange finishes.
// It is already closed when the conversation is idle.
func (c *Conversation) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Subscribe registers fn for every change to the conversation. Updates for
// one exchange are delivered in order from a single goroutine.
func (c *Conversation) Subscribe(fn func(Update)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Send appends a user message and streams the assistant's reply into the
// buffer. It returns once the exchange has started.
func (c *Conversation) Send(ctx context.Context, text string) error {
	e := c.engine

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("conversation was dropped")
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}

	c.messages = append(c.messages, models.Message{
		ID:      e.newID(),
		Role:    models.RoleUser,
		Content: text,
	})
	req := &provider.ChatRequest{
		Model:        e.model,
		Messages:     toProviderMessages(c.messages),
		SystemPrompt: e.systemPrompt,
		MaxTokens:    e.maxTokens,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.err = nil
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	update := c.updateLocked(nil)
	c.mu.Unlock()

	c.publish(update)

	events, err := e.provider.Chat(streamCtx, req)
	if err != nil {
		cancel()
		c.finish(done, err, nil)
		return err
	}

	go c.consume(streamCtx, events, done)
	return nil
}

// Stop cancels the in-flight response. Content streamed so far is kept.
func (c *Conversation) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Conversation) consume(ctx context.Context, events <-chan provider.Event, done chan struct{}) {
	assistantID := ""
	for ev := range events {
		switch ev.Type {
		case provider.EventTextDelta:
			c.mu.Lock()
			if assistantID == "" {
				assistantID = c.engine.newID()
				c.messages = append(c.messages, models.Message{ID: assistantID, Role: models.RoleAssistant})
			}
			// the assistant message is always last while streaming
			last := len(c.messages) - 1
			c.messages[last].Content += ev.TextDelta
			update := c.updateLocked(nil)
			c.mu.Unlock()
			c.publish(update)

		case provider.EventDone:
			c.finish(done, nil, ev.Usage)
			drainEvents(events)
			return

		case provider.EventError:
			err := ev.Error
			if ctx.Err() != nil {
				// stopped by the user
				err = nil
			}
			c.finish(done, err, nil)
			drainEvents(events)
			return
		}
	}

	// channel closed without a terminal event
	var err error
	if ctx.Err() == nil {
		err = errors.New("response stream ended unexpectedly")
	}
	c.finish(done, err, nil)
}

func (c *Conversation) finish(done chan struct{}, err error, usage *provider.Usage) {
	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.busy = false
	c.err = err
	update := c.updateLocked(usage)
	c.done = nil
	c.mu.Unlock()

	if err != nil {
		c.engine.logger.Warn("response failed", zap.String("conversation_id", c.id), zap.Error(err))
	} else {
		c.engine.logger.Debug("response finished", zap.String("conversation_id", c.id))
	}

	c.publish(update)
	close(done)
}

func (c *Conversation) close() {
	c.mu.Lock()
	c.closed = true
	c.subs = make(map[int]func(Update))
	c.mu.Unlock()
	c.Stop()
}

func (c *Conversation) updateLocked(usage *provider.Usage) Update {
	return Update{
		ConversationID: c.id,
		Messages:       c.copyLocked(),
		Busy:           c.busy,
		Err:            c.err,
		Usage:          usage,
	}
}

func (c *Conversation) copyLocked() []models.Message {
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) publish(u Update) {
	c.mu.Lock()
	subs := make([]func(Update), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

func toProviderMessages(msgs []models.Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, provider.Message{Role: provider.Role(m.Role), Text: m.Content})
	}
	return out
}

func drainEvents(events <-chan provider.Event) {
	for range events {
	}
}
