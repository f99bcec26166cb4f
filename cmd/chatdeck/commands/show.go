package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/strrl/chatdeck/pkg/models"
)

// NewListCommand creates the list command
func NewListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}
}

// NewShowCommand creates the show command
func NewShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [chat-id]",
		Short: "Show the messages of a chat without TUI",
		Long: `Show the messages of a saved chat in a non-interactive format.
Without arguments: shows the active chat
With a chat ID (or a unique prefix of one): shows that chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, opts, args)
		},
	}
}

func runList(cmd *cobra.Command, opts *rootOptions) error {
	a, err := openStorage(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.load(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.Empty() {
		fmt.Fprintln(out, "No chats yet")
		return nil
	}

	active := activeOnOpen(c)
	fmt.Fprintln(out, "Chats:")
	fmt.Fprintln(out, "======")
	for i, sess := range c.Sessions {
		marker := " "
		if sess.ID == active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %d. %s\n", marker, i+1, sess.Title)
		fmt.Fprintf(out, "     ID: %s\n", sess.ID)
		fmt.Fprintf(out, "     Created: %s · %d messages\n",
			humanize.Time(sess.CreatedAt), len(sess.Messages))
	}
	return nil
}

func runShow(cmd *cobra.Command, opts *rootOptions, args []string) error {
	a, err := openStorage(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.load(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.Empty() {
		fmt.Fprintln(out, "No chats yet")
		return nil
	}

	id := activeOnOpen(c)
	if len(args) == 1 {
		id, err = resolveID(c.Sessions, args[0])
		if err != nil {
			fmt.Fprintf(out, "%v\n", err)
			printAvailable(out, c.Sessions)
			return nil
		}
	}

	var sess *models.Session
	for i := range c.Sessions {
		if c.Sessions[i].ID == id {
			sess = &c.Sessions[i]
			break
		}
	}
	if sess == nil {
		return fmt.Errorf("chat %q is missing from storage", id)
	}

	printSession(out, *sess)
	return nil
}

// activeOnOpen is the chat a new session of the app starts in: the most
// recently created one, whatever the saved selection says
func activeOnOpen(c models.Collection) string {
	sess, ok := c.Newest()
	if !ok {
		return ""
	}
	return sess.ID
}

func printSession(out io.Writer, sess models.Session) {
	fmt.Fprintf(out, "%s (%s)\n", sess.Title, sess.ID)
	fmt.Fprintf(out, "Created %s · %d messages\n", humanize.Time(sess.CreatedAt), len(sess.Messages))
	fmt.Fprintln(out, "================================================")

	if len(sess.Messages) == 0 {
		fmt.Fprintln(out, "\nNo messages in this chat")
		return
	}

	for _, msg := range sess.Messages {
		speaker := "You"
		if msg.Role == models.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(out, "\n--- %s ---\n%s\n", speaker, msg.Content)
	}
}

func printAvailable(out io.Writer, sessions []models.Session) {
	fmt.Fprintf(out, "\nAvailable chats:\n")
	for i, sess := range sessions {
		if i >= 10 {
			fmt.Fprintf(out, "... and %d more chats\n", len(sessions)-10)
			break
		}
		fmt.Fprintf(out, "  - %s %s\n", sess.ID, truncateString(sess.Title, 40))
	}
}

// resolveID matches arg against session ids, exactly or by unique prefix
func resolveID(sessions []models.Session, arg string) (string, error) {
	var matches []string
	for _, sess := range sessions {
		if sess.ID == arg {
			return arg, nil
		}
		if strings.HasPrefix(sess.ID, arg) {
			matches = append(matches, sess.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("chat '%s' not found", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("chat id '%s' is ambiguous (%d matches)", arg, len(matches))
	}
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
