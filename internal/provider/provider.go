// Package provider defines the streaming LLM interface the chat engine uses
// and adapters that normalize each vendor's stream into one Event sequence.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history
type Message struct {
	Role Role
	Text string
}

// ChatRequest is the provider-neutral request
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
}

type EventType int

const (
	// EventTextDelta carries the next chunk of assistant text
	EventTextDelta EventType = iota

	// EventDone ends the response, with token usage when known
	EventDone

	// EventError ends the response with a failure
	EventError
)

// Event is one item of a streamed response
type Event struct {
	Type      EventType
	TextDelta string
	Usage     *Usage
	Error     error
}

// Usage records token consumption for one call
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider streams chat completions.
type Provider interface {
	// Chat starts a streaming response. The channel yields events until an
	// EventDone or EventError and is then closed. Callers must drain it.
	Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error)

	// Name identifies the provider, such as "anthropic" or "deepseek"
	Name() string

	// DefaultModel is used when a request names no model
	DefaultModel() string
}

// Settings configure a provider instance
type Settings struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    HTTPOptions
}

// Factory builds a provider from settings
type Factory func(Settings) (Provider, error)

var factories = map[string]Factory{
	"anthropic": func(s Settings) (Provider, error) {
		if s.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicProvider(s.APIKey, s.BaseURL, s.Model, newHTTPClient(s.HTTP)), nil
	},
	"openai": func(s Settings) (Provider, error) {
		if s.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIProvider(s.APIKey, s.BaseURL, s.Model, newHTTPClient(s.HTTP)), nil
	},
	"deepseek": openAICompatible("https://api.deepseek.com/v1", "deepseek-chat"),
	"groq":     openAICompatible("https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"),
	"ollama":   openAICompatible("http://localhost:11434/v1", "llama3.2"),
	"echo": func(s Settings) (Provider, error) {
		return NewEchoProvider(), nil
	},
}

func openAICompatible(baseURL, model string) Factory {
	return func(s Settings) (Provider, error) {
		if s.BaseURL == "" {
			s.BaseURL = baseURL
		}
		if s.Model == "" {
			s.Model = model
		}
		if s.APIKey == "" {
			// local servers ignore the key but the client requires one
			s.APIKey = "unused"
		}
		return NewOpenAIProvider(s.APIKey, s.BaseURL, s.Model, newHTTPClient(s.HTTP)), nil
	}
}

// New builds the named provider
func New(name string, s Settings) (Provider, error) {
	factory, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return factory(s)
}

// Names lists the registered provider names
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
