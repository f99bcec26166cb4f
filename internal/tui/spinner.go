package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Spinner cycles through braille frames, one per tick
type Spinner struct {
	frames []string
	frame  int
}

func NewSpinner() *Spinner {
	return &Spinner{frames: spinnerFrames}
}

// Next advances the spinner to the next frame
func (s *Spinner) Next() {
	s.frame = (s.frame + 1) % len(s.frames)
}

// View returns the current spinner frame
func (s *Spinner) View() string {
	return s.frames[s.frame]
}

// LoadingIndicator is a spinner with a message, shown while chats are
// restored and while a reply streams
type LoadingIndicator struct {
	spinner *Spinner
	message string
}

func NewLoadingIndicator(message string) *LoadingIndicator {
	return &LoadingIndicator{
		spinner: NewSpinner(),
		message: message,
	}
}

// SetMessage updates the loading message
func (l *LoadingIndicator) SetMessage(message string) {
	l.message = message
}

// Tick advances the spinner animation
func (l *LoadingIndicator) Tick() {
	l.spinner.Next()
}

func (l *LoadingIndicator) View() string {
	spinnerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("212"))

	messageStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	return fmt.Sprintf("%s %s",
		spinnerStyle.Render(l.spinner.View()),
		messageStyle.Render(l.message))
}

// LoadingOverlay centers the indicator and a hint in a width x height box
func LoadingOverlay(width, height int, indicator *LoadingIndicator, hint string) string {
	content := indicator.View()
	if hint != "" {
		content += "\n\n" + lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Render(hint)
	}

	style := lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center, lipgloss.Center)

	return style.Render(content)
}
