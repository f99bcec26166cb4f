package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/strrl/chatdeck/internal/bridge"
)

type (
	// StartedMsg reports that persisted chats were restored
	StartedMsg struct {
		Error error
	}

	// ChangedMsg is sent whenever the bridge reports a visible change:
	// a streamed delta, a new title, a created or deleted session
	ChangedMsg struct{}

	// TickMsg is sent periodically for spinner animation
	TickMsg time.Time
)

// startCmd restores chats in the background so the first frame renders
// immediately
func startCmd(ctx context.Context, b *bridge.Bridge) tea.Cmd {
	return func() tea.Msg {
		return StartedMsg{Error: b.Start(ctx)}
	}
}

// notifier returns a hook for bridge.WithNotify and the channel it feeds.
// Changes coalesce: a burst of deltas yields one pending signal, and the
// hook never blocks the goroutine that streams them.
func notifier() (func(), chan struct{}) {
	ch := make(chan struct{}, 1)
	return func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}, ch
}

// waitForChange blocks until the bridge signals a change. Update re-arms it
// after each ChangedMsg.
func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return ChangedMsg{}
	}
}

// tickCmd creates a ticker for spinner animation
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
