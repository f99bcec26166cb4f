package provider

import (
	"context"
	"strings"
	"time"
)

// EchoProvider answers offline by streaming back the last user message.
// It needs no credentials, so it backs the default configuration and tests.
type EchoProvider struct {
	// Delay is the pause between streamed words
	Delay time.Duration
}

func NewEchoProvider() *EchoProvider {
	return &EchoProvider{Delay: 30 * time.Millisecond}
}

func (p *EchoProvider) Name() string         { return "echo" }
func (p *EchoProvider) DefaultModel() string { return "echo" }

func (p *EchoProvider) Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	reply := EchoReply(req.Messages)

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)

		words := strings.SplitAfter(reply, " ")
		for _, w := range words {
			if p.Delay > 0 {
				select {
				case <-ctx.Done():
					ch <- Event{Type: EventError, Error: ctx.Err()}
					return
				case <-time.After(p.Delay):
				}
			} else if ctx.Err() != nil {
				ch <- Event{Type: EventError, Error: ctx.Err()}
				return
			}
			ch <- Event{Type: EventTextDelta, TextDelta: w}
		}
		ch <- Event{Type: EventDone, Usage: &Usage{
			InputTokens:  countWords(req.Messages),
			OutputTokens: len(words),
		}}
	}()
	return ch, nil
}

// EchoReply is the full text EchoProvider streams for a history
func EchoReply(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return "You said: " + msgs[i].Text
		}
	}
	return "Nothing to echo."
}

func countWords(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len(strings.Fields(m.Text))
	}
	return n
}
