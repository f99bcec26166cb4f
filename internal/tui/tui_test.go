package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/strrl/chatdeck/internal/bridge"
	"github.com/strrl/chatdeck/internal/engine"
	"github.com/strrl/chatdeck/internal/persist"
	"github.com/strrl/chatdeck/internal/provider"
	"github.com/strrl/chatdeck/internal/sessions"
	"github.com/strrl/chatdeck/pkg/models"
)

// newTestModel wires a model to an in-memory bridge backed by the echo
// provider, optionally seeded with persisted sessions
func newTestModel(t *testing.T, seed []models.Session) (model, *bridge.Bridge) {
	t.Helper()

	slot := persist.NewMemorySlot()
	if len(seed) > 0 {
		blob, err := persist.Encode(models.Collection{Sessions: seed, ActiveID: seed[0].ID})
		if err != nil {
			t.Fatalf("encode seed: %v", err)
		}
		slot = persist.NewMemorySlotWith(blob)
	}

	store := sessions.NewStore()
	adapter := persist.NewAdapter(slot, nil)
	b := bridge.New(store, engine.New(&provider.EchoProvider{}), adapter)
	t.Cleanup(b.Close)

	notify, changes := notifier()
	b.SetNotify(notify)

	return initialModel(context.Background(), b, changes, Options{Title: "echo"}), b
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	updated, _ := m.Update(msg)
	return updated.(model)
}

// boot sizes the window and runs the start command the way the program would
func boot(t *testing.T, m model) model {
	t.Helper()
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	return update(t, m, startCmd(m.ctx, m.bridge)())
}

func typeText(t *testing.T, m model, text string) model {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func waitIdle(t *testing.T, b *bridge.Bridge) {
	t.Helper()
	select {
	case <-b.Done(b.ActiveID()):
	case <-time.After(5 * time.Second):
		t.Fatal("reply did not finish")
	}
}

// TestModelInitialization tests the initial model setup
func TestModelInitialization(t *testing.T) {
	m, _ := newTestModel(t, nil)

	if !m.booting {
		t.Error("Model should start booting")
	}

	if m.focus != composerFocus {
		t.Error("Composer should have focus initially")
	}

	if !m.composer.Focused() {
		t.Error("Composer input should be focused")
	}

	if m.View() != "\n  Initializing..." {
		t.Error("View should show initializing before the window size is known")
	}
}

// TestViewportInitialization tests viewport setup
func TestViewportInitialization(t *testing.T) {
	m, _ := newTestModel(t, nil)

	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	if !m.ready {
		t.Error("Model should be ready after window size is set")
	}

	if m.width != 100 || m.height != 40 {
		t.Error("Window dimensions not set correctly")
	}

	if got := sidebarWidth + 1 + m.transcript.Width; got != m.width {
		t.Errorf("Sidebar and transcript should fill the width, got %d", got)
	}

	if m.transcript.Height != 36 {
		t.Errorf("Expected transcript height 36, got %d", m.transcript.Height)
	}

	if !strings.Contains(m.View(), "Restoring chats...") {
		t.Error("Booting view should show the loading overlay")
	}
}

// TestBootWithEmptyStorage tests that startup creates a fresh session
func TestBootWithEmptyStorage(t *testing.T) {
	m, b := newTestModel(t, nil)
	m = boot(t, m)

	if m.booting {
		t.Fatal("Model should leave booting after StartedMsg")
	}

	if len(m.summaries) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(m.summaries))
	}

	if m.activeID != b.ActiveID() || m.summaries[0].Title != sessions.DefaultTitle {
		t.Error("Fresh session should be active and untitled")
	}

	view := m.View()
	if !strings.Contains(view, sessions.DefaultTitle) {
		t.Error("Sidebar should list the new chat")
	}
	if !strings.Contains(view, "Chatdeck · echo") {
		t.Error("Header should include the configured title")
	}
}

// TestBootRestoresSessions tests that persisted chats are listed and shown
func TestBootRestoresSessions(t *testing.T) {
	now := time.Now()
	seed := []models.Session{
		{
			ID:    "s1",
			Title: "Trip planning",
			Messages: []models.Message{
				{ID: "m1", Role: models.RoleUser, Content: "Trip planning"},
				{ID: "m2", Role: models.RoleAssistant, Content: "Where to?"},
			},
			CreatedAt: now.Add(-time.Hour),
		},
		{ID: "s2", Title: "New Chat", Messages: []models.Message{}, CreatedAt: now.Add(-2 * time.Hour)},
	}

	m, _ := newTestModel(t, seed)
	m = boot(t, m)

	if len(m.summaries) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(m.summaries))
	}

	if m.activeID != "s1" {
		t.Errorf("Expected s1 active, got %s", m.activeID)
	}

	if len(m.live) != 2 {
		t.Fatalf("Expected 2 live messages, got %d", len(m.live))
	}

	if !strings.Contains(m.renderTranscript(), "Where to?") {
		t.Error("Transcript should show the restored reply")
	}

	if !strings.Contains(m.renderSidebar(10), "1 hour ago") {
		t.Error("Sidebar should show humanized creation time")
	}
}

// TestKeysIgnoredWhileBooting tests that input is held until chats are restored
func TestKeysIgnoredWhileBooting(t *testing.T) {
	m, b := newTestModel(t, nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	m = typeText(t, m, "early")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.composer.Value() != "" {
		t.Error("Typing should be ignored while booting")
	}

	if b.Ready() {
		t.Error("Bridge should not be started by key presses")
	}
}

// TestSendStreamsReply tests sending a prompt and receiving the echo
func TestSendStreamsReply(t *testing.T) {
	m, b := newTestModel(t, nil)
	m = boot(t, m)

	m = typeText(t, m, "hello there")
	if b.PendingInput() != "hello there" {
		t.Errorf("Pending input should track the composer, got %q", b.PendingInput())
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.composer.Value() != "" {
		t.Error("Composer should be cleared after sending")
	}

	if len(m.live) < 1 || m.live[0].Content != "hello there" {
		t.Fatal("User message should appear immediately")
	}

	waitIdle(t, b)
	m = update(t, m, ChangedMsg{})

	if m.busy {
		t.Error("Model should not be busy after the reply finished")
	}

	if len(m.live) != 2 || m.live[1].Content != "You said: hello there" {
		t.Fatalf("Unexpected transcript: %+v", m.live)
	}

	if m.summaries[0].Title != "hello there" {
		t.Errorf("Title should follow the first message, got %q", m.summaries[0].Title)
	}
}

// TestEnterIgnoresWhitespace tests that blank prompts are not sent
func TestEnterIgnoresWhitespace(t *testing.T) {
	m, b := newTestModel(t, nil)
	m = boot(t, m)

	m = typeText(t, m, "   ")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if b.Busy() || len(b.Live()) != 0 {
		t.Error("Whitespace prompt should not be sent")
	}
}

// TestNewAndSwitchSessions tests creating a chat and switching back from the sidebar
func TestNewAndSwitchSessions(t *testing.T) {
	m, b := newTestModel(t, nil)
	m = boot(t, m)
	first := m.activeID

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})

	if len(m.summaries) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(m.summaries))
	}
	if m.activeID == first || m.activeID != b.ActiveID() {
		t.Error("New session should become active")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focus != sidebarFocus {
		t.Fatal("Tab should focus the sidebar")
	}
	if m.cursor != 0 {
		t.Errorf("Cursor should start on the active session, got %d", m.cursor)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 1 {
		t.Errorf("Expected cursor 1, got %d", m.cursor)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.activeID != first {
		t.Error("Enter in the sidebar should switch to the selected session")
	}
	if m.focus != composerFocus {
		t.Error("Switching should return focus to the composer")
	}
}

// TestDeleteFromSidebar tests deleting the session under the cursor
func TestDeleteFromSidebar(t *testing.T) {
	m, _ := newTestModel(t, nil)
	m = boot(t, m)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	newest := m.activeID

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}})

	if len(m.summaries) != 1 {
		t.Fatalf("Expected 1 session after delete, got %d", len(m.summaries))
	}
	if m.activeID == newest {
		t.Error("Deleted session should no longer be active")
	}

	// deleting the last session leaves a fresh one
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}})
	if len(m.summaries) != 1 || m.summaries[0].Title != sessions.DefaultTitle {
		t.Error("Deleting the only session should create a new chat")
	}
}

// TestSidebarKeysDoNotReachComposer tests that navigation keys are not typed
func TestSidebarKeysDoNotReachComposer(t *testing.T) {
	m, _ := newTestModel(t, nil)
	m = boot(t, m)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})

	if m.composer.Value() != "" {
		t.Errorf("Sidebar keys should not be typed, got %q", m.composer.Value())
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.focus != composerFocus {
		t.Error("Esc should return focus to the composer")
	}
}

// TestNotifierCoalesces tests that bursts of changes leave one pending signal
func TestNotifierCoalesces(t *testing.T) {
	notify, changes := notifier()

	notify()
	notify()
	notify()

	if len(changes) != 1 {
		t.Errorf("Expected 1 pending change, got %d", len(changes))
	}

	if _, ok := waitForChange(changes)().(ChangedMsg); !ok {
		t.Error("waitForChange should produce ChangedMsg")
	}
}

// TestSpinnerAnimation tests spinner tick updates
func TestSpinnerAnimation(t *testing.T) {
	spinner := NewSpinner()
	initialFrame := spinner.View()

	spinner.Next()
	if spinner.View() == initialFrame {
		t.Error("Spinner frame should change after Next()")
	}

	for i := 0; i < len(spinnerFrames)-1; i++ {
		spinner.Next()
	}

	if spinner.View() != initialFrame {
		t.Error("Spinner should return to initial frame after full rotation")
	}
}

// TestLoadingIndicator tests the loading indicator
func TestLoadingIndicator(t *testing.T) {
	indicator := NewLoadingIndicator("Testing...")

	view := indicator.View()
	if !strings.Contains(view, "Testing...") {
		t.Error("Loading indicator should show its message")
	}

	indicator.SetMessage("New message")
	if indicator.View() == view {
		t.Error("View should change when message is updated")
	}

	overlay := LoadingOverlay(40, 5, indicator, "[ctrl+c to quit]")
	if !strings.Contains(overlay, "ctrl+c") {
		t.Error("Overlay should include the hint")
	}
}

// TestWrapText tests text wrapping functionality
func TestWrapText(t *testing.T) {
	text := "This is a long text that should be wrapped at the specified width"

	wrapped := wrapText(text, 20)
	for _, line := range wrapped {
		if len(line) > 20 {
			t.Errorf("Line exceeds max width: %s", line)
		}
	}

	wrapped = wrapText(text, 0)
	if len(wrapped) != 1 {
		t.Error("Width 0 should return single line")
	}

	wrapped = wrapText("first\n\nsecond", 20)
	if len(wrapped) != 3 || wrapped[1] != "" {
		t.Errorf("Blank lines should be kept, got %q", wrapped)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected short to be unchanged, got %q", got)
	}

	if got := truncate("héllo wörld", 8); got != "héllo..." {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
}

// BenchmarkSpinnerAnimation benchmarks spinner performance
func BenchmarkSpinnerAnimation(b *testing.B) {
	spinner := NewSpinner()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		spinner.Next()
		_ = spinner.View()
	}
}
