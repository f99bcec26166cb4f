package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/strrl/chatdeck/internal/bridge"
	"github.com/strrl/chatdeck/pkg/models"
)

type focusArea int

const (
	composerFocus focusArea = iota
	sidebarFocus
)

const sidebarWidth = 30

// Options customize the chat screen
type Options struct {
	// Title is shown in the header, e.g. the provider and model
	Title string
}

type model struct {
	ctx     context.Context
	bridge  *bridge.Bridge
	changes <-chan struct{}
	opts    Options

	booting bool
	loading *LoadingIndicator
	ticking bool

	summaries []models.Summary
	activeID  string
	cursor    int
	focus     focusArea

	live   []models.Message
	busy   bool
	err    error
	notice string

	transcript viewport.Model
	composer   textinput.Model

	md      *glamour.TermRenderer
	mdWidth int

	ready  bool
	width  int
	height int
}

func initialModel(ctx context.Context, b *bridge.Bridge, changes <-chan struct{}, opts Options) model {
	ti := textinput.New()
	ti.Prompt = "› "
	ti.Placeholder = "Ask anything"
	ti.CharLimit = 0
	ti.Focus()

	return model{
		ctx:      ctx,
		bridge:   b,
		changes:  changes,
		opts:     opts,
		booting:  true,
		loading:  NewLoadingIndicator("Restoring chats..."),
		ticking:  true,
		focus:    composerFocus,
		composer: ti,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		startCmd(m.ctx, m.bridge),
		waitForChange(m.changes),
		tickCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.refresh()
		return m, nil

	case StartedMsg:
		m.booting = false
		if msg.Error != nil {
			m.err = msg.Error
			return m, nil
		}
		m.composer.SetValue(m.bridge.PendingInput())
		m.composer.CursorEnd()
		m.sync()
		return m, m.ensureTicking()

	case ChangedMsg:
		m.sync()
		cmds = append(cmds, waitForChange(m.changes), m.ensureTicking())
		return m, tea.Batch(cmds...)

	case TickMsg:
		if !m.booting && !m.busy {
			m.ticking = false
			return m, nil
		}
		m.loading.Tick()
		if m.busy {
			m.refresh()
		}
		return m, tickCmd()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.booting {
			return m, nil
		}
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	scroll := true
	if m.focus == composerFocus && !m.booting {
		before := m.composer.Value()
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		cmds = append(cmds, cmd)
		if after := m.composer.Value(); after != before {
			m.bridge.SetPendingInput(after)
		}
		// typed keys belong to the composer; only paging scrolls
		if key, ok := msg.(tea.KeyMsg); ok {
			scroll = key.String() == "pgup" || key.String() == "pgdown"
		}
	}

	if scroll {
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKey applies chat key bindings. Keys it does not claim fall through
// to the composer and the transcript viewport.
func (m *model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	m.notice = ""

	switch msg.String() {
	case "tab":
		if m.focus == composerFocus {
			m.focus = sidebarFocus
			m.composer.Blur()
			m.cursor = m.activeIndex()
			return nil, true
		}
		m.focus = composerFocus
		return m.composer.Focus(), true

	case "ctrl+n":
		m.bridge.New()
		m.focus = composerFocus
		m.sync()
		return m.composer.Focus(), true

	case "esc":
		if m.busy {
			m.bridge.Stop()
			return nil, true
		}
		if m.focus == sidebarFocus {
			m.focus = composerFocus
			return m.composer.Focus(), true
		}
		return nil, true
	}

	if m.focus == sidebarFocus {
		return m.handleSidebarKey(msg)
	}

	if msg.Type == tea.KeyEnter {
		m.submit()
		return m.ensureTicking(), true
	}
	return nil, false
}

func (m *model) handleSidebarKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.summaries)-1 {
			m.cursor++
		}
	case "enter":
		if id, ok := m.cursorID(); ok {
			m.bridge.SwitchTo(id)
			m.sync()
			m.focus = composerFocus
			return tea.Batch(m.composer.Focus(), m.ensureTicking()), true
		}
	case "n":
		m.bridge.New()
		m.sync()
		m.cursor = m.activeIndex()
	case "d", "x", "delete":
		if id, ok := m.cursorID(); ok {
			m.bridge.Delete(id)
			m.sync()
			if m.cursor >= len(m.summaries) {
				m.cursor = len(m.summaries) - 1
			}
		}
	default:
		return nil, false
	}
	m.refresh()
	return nil, true
}

func (m *model) submit() {
	text := m.composer.Value()
	if strings.TrimSpace(text) == "" {
		return
	}

	_, err := m.bridge.Send(m.ctx, text)
	switch {
	case errors.Is(err, bridge.ErrBusy):
		m.notice = "Still answering. Press esc to stop."
		return
	case errors.Is(err, bridge.ErrNotReady):
		m.notice = "Still restoring chats."
		return
	}

	m.composer.SetValue("")
	m.sync()
	if err != nil {
		m.err = err
	}
	m.transcript.GotoBottom()
}

// ensureTicking starts the spinner loop if something is in progress and no
// loop is running
func (m *model) ensureTicking() tea.Cmd {
	if m.ticking || (!m.booting && !m.busy) {
		return nil
	}
	m.ticking = true
	return tickCmd()
}

// sync pulls the current state out of the bridge
func (m *model) sync() {
	m.summaries = m.bridge.Enumerate()
	m.activeID = m.bridge.ActiveID()
	m.live = m.bridge.Live()
	m.busy = m.bridge.Busy()
	m.err = m.bridge.Err()

	if m.focus == composerFocus || m.cursor >= len(m.summaries) {
		m.cursor = m.activeIndex()
	}
	m.refresh()
}

func (m *model) activeIndex() int {
	for i, s := range m.summaries {
		if s.ID == m.activeID {
			return i
		}
	}
	return 0
}

func (m *model) cursorID() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.summaries) {
		return "", false
	}
	return m.summaries[m.cursor].ID, true
}

func (m *model) resize() {
	bodyHeight := m.height - 2
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	mainWidth := m.width - sidebarWidth - 1
	if mainWidth < 20 {
		mainWidth = 20
	}
	// status line and composer sit under the transcript
	transcriptHeight := bodyHeight - 2

	if !m.ready {
		m.transcript = viewport.New(mainWidth, transcriptHeight)
	} else {
		m.transcript.Width = mainWidth
		m.transcript.Height = transcriptHeight
	}
	m.composer.Width = mainWidth - 4
}

// refresh re-renders the transcript, following the tail when the view was
// already at the bottom
func (m *model) refresh() {
	if !m.ready {
		return
	}
	follow := m.transcript.AtBottom()
	m.transcript.SetContent(m.renderTranscript())
	if follow {
		m.transcript.GotoBottom()
	}
}

func (m *model) renderTranscript() string {
	if len(m.live) == 0 {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Render("No messages yet. Type below and press enter.")
	}

	userLabel := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	assistantLabel := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userText := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	var s strings.Builder
	for i, msg := range m.live {
		last := i == len(m.live)-1
		if msg.Role == models.RoleUser {
			s.WriteString(userLabel.Render("You") + "\n")
			for _, line := range wrapText(msg.Content, m.transcript.Width-2) {
				s.WriteString(userText.Render(line) + "\n")
			}
		} else {
			s.WriteString(assistantLabel.Render("Assistant") + "\n")
			switch {
			case msg.Content == "" && last && m.busy:
				s.WriteString(m.loading.spinner.View() + " thinking\n")
			default:
				s.WriteString(m.renderMarkdown(msg.Content) + "\n")
			}
		}
		if !last {
			s.WriteString("\n")
		}
	}
	return s.String()
}

func (m *model) markdownRenderer() *glamour.TermRenderer {
	wrapWidth := m.transcript.Width - 2
	if wrapWidth < 20 {
		wrapWidth = 20
	}
	if m.md != nil && m.mdWidth == wrapWidth {
		return m.md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return nil
	}
	m.md = r
	m.mdWidth = wrapWidth
	return r
}

func (m *model) renderMarkdown(text string) string {
	r := m.markdownRenderer()
	if r == nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (m model) renderSidebar(height int) string {
	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229"))
	s.WriteString(headerStyle.Render("Chats") + "\n")
	s.WriteString(strings.Repeat("─", sidebarWidth-2) + "\n")

	for i, sum := range m.summaries {
		marker := "  "
		if sum.ID == m.activeID {
			marker = "● "
		}

		titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		metaStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
		if i == m.cursor && m.focus == sidebarFocus {
			titleStyle = titleStyle.Foreground(lipgloss.Color("212")).Bold(true)
			metaStyle = metaStyle.Foreground(lipgloss.Color("245"))
		} else if sum.ID == m.activeID {
			titleStyle = titleStyle.Bold(true)
		}

		s.WriteString(titleStyle.Render(marker+truncate(sum.Title, sidebarWidth-4)) + "\n")
		meta := fmt.Sprintf("  %s · %d msgs", humanize.Time(sum.CreatedAt), sum.MessageCount)
		s.WriteString(metaStyle.Render(truncate(meta, sidebarWidth-1)) + "\n")
	}

	return lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(height).
		MaxHeight(height).
		Render(s.String())
}

func (m model) renderStatus() string {
	switch {
	case m.notice != "":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render(m.notice)
	case m.err != nil:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("Error: " + m.err.Error())
	case m.busy:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("250")).
			Render(m.loading.spinner.View() + " streaming · esc to stop")
	}
	return ""
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	if m.booting {
		return LoadingOverlay(m.width, m.height, m.loading, "[ctrl+c to quit]")
	}

	bodyHeight := m.transcript.Height + 2

	main := lipgloss.JoinVertical(lipgloss.Left,
		m.transcript.View(),
		m.renderStatus(),
		m.composer.View(),
	)

	divider := strings.Builder{}
	for i := 0; i < bodyHeight; i++ {
		divider.WriteString("│")
		if i < bodyHeight-1 {
			divider.WriteString("\n")
		}
	}
	dividerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	body := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderSidebar(bodyHeight),
		dividerStyle.Render(divider.String()),
		main,
	)

	return fmt.Sprintf("%s\n%s\n%s", m.renderHeader(), body, m.renderFooter())
}

func (m model) renderHeader() string {
	title := "Chatdeck"
	if m.opts.Title != "" {
		title += " · " + m.opts.Title
	}
	for _, sum := range m.summaries {
		if sum.ID == m.activeID {
			title += " · " + sum.Title
			break
		}
	}

	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("63"))

	return style.Render(title)
}

func (m model) renderFooter() string {
	info := "enter: send • ctrl+n: new • tab: chats"
	if m.focus == sidebarFocus {
		info = "↑/↓: navigate • enter: open • n: new • d: delete • tab: back"
	}
	if m.busy {
		info += " • esc: stop"
	}
	info += " • ctrl+c: quit"

	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	return style.Render(info)
}

// wrapText wraps text to fit within the specified width, keeping blank lines
func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		currentLine := words[0]
		for _, word := range words[1:] {
			if len([]rune(currentLine))+1+len([]rune(word)) > width {
				lines = append(lines, currentLine)
				currentLine = word
			} else {
				currentLine += " " + word
			}
		}
		lines = append(lines, currentLine)
	}

	return lines
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// Run shows the chat screen until the user quits. The bridge must not have
// been started; Run starts it in the background. In-flight replies are
// cancelled when the screen closes.
func Run(ctx context.Context, b *bridge.Bridge, opts Options) error {
	notify, changes := notifier()
	b.SetNotify(notify)
	defer b.SetNotify(nil)

	p := tea.NewProgram(
		initialModel(ctx, b, changes, opts),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	_, err := p.Run()
	b.Close()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
