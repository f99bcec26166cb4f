// Package engine runs streaming chat exchanges. Each session id gets its own
// Conversation holding a live message buffer that grows as a response
// streams in.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strrl/chatdeck/internal/provider"
	"github.com/strrl/chatdeck/pkg/models"
)

// ErrBusy is returned when a conversation is already streaming a response
var ErrBusy = errors.New("conversation is busy")

// Update is delivered to subscribers whenever a conversation changes
type Update struct {
	ConversationID string
	Messages       []models.Message
	Busy           bool
	Err            error
	Usage          *provider.Usage
}

// Engine owns one Conversation per id
type Engine struct {
	provider     provider.Provider
	model        string
	systemPrompt string
	maxTokens    int
	logger       *zap.Logger
	newID        func() string

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// Option configures an Engine
type Option func(*Engine)

func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) { e.systemPrompt = prompt }
}

func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMessageIDs overrides the message id source
func WithMessageIDs(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

func New(p provider.Provider, opts ...Option) *Engine {
	e := &Engine{
		provider:      p,
		logger:        zap.NewNop(),
		newID:         uuid.NewString,
		conversations: make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Provider returns the backing provider
func (e *Engine) Provider() provider.Provider {
	return e.provider
}

// Conversation returns the conversation for id, creating an empty one
func (e *Engine) Conversation(id string) *Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.conversations[id]; ok {
		return c
	}
	c := &Conversation{
		id:       id,
		engine:   e,
		messages: []models.Message{},
		subs:     make(map[int]func(Update)),
	}
	e.conversations[id] = c
	return c
}

// Lookup returns the conversation for id without creating it
func (e *Engine) Lookup(id string) (*Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conversations[id]
	return c, ok
}

// Drop stops and forgets the conversation for id
func (e *Engine) Drop(id string) {
	e.mu.Lock()
	c, ok := e.conversations[id]
	delete(e.conversations, id)
	e.mu.Unlock()

	if ok {
		c.close()
	}
}

// StopAll cancels every in-flight response
func (e *Engine) StopAll() {
	e.mu.Lock()
	convs := make([]*Conversation, 0, len(e.conversations))
	for _, c := range e.conversations {
		convs = append(convs, c)
	}
	e.mu.Unlock()

	for _, c := range convs {
		c.Stop()
	}
}

// Wait blocks until no conversation is streaming or ctx is done
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	convs := make([]*Conversation, 0, len(e.conversations))
	for _, c := range e.conversations {
		convs = append(convs, c)
	}
	e.mu.Unlock()

	for _, c := range convs {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
