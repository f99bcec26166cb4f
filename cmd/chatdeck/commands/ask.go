package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/strrl/chatdeck/internal/bridge"
	"github.com/strrl/chatdeck/pkg/models"
)

type askOptions struct {
	newChat bool
	chatID  string
}

// NewAskCommand creates the ask command
func NewAskCommand(opts *rootOptions) *cobra.Command {
	askOpts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send a prompt to the active chat and stream the reply",
		Long: `Send a prompt to the active chat and stream the reply to stdout.
The exchange is saved like any other. Without arguments the prompt is read
from stdin. Interrupting keeps the partial reply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, askOpts, args)
		},
	}

	cmd.Flags().BoolVar(&askOpts.newChat, "new", false, "start a new chat for this prompt")
	cmd.Flags().StringVar(&askOpts.chatID, "chat", "", "chat ID (or unique prefix) to send to instead of the active one")

	return cmd
}

func runAsk(cmd *cobra.Command, opts *rootOptions, askOpts *askOptions, args []string) error {
	prompt, err := readPrompt(cmd, args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt is empty")
	}

	a, err := openChat(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.bridge.Start(ctx); err != nil {
		return err
	}

	switch {
	case askOpts.newChat:
		a.bridge.New()
	case askOpts.chatID != "":
		id, err := resolveID(a.store.Snapshot().Sessions, askOpts.chatID)
		if err != nil {
			return err
		}
		a.bridge.SwitchTo(id)
	}

	out := cmd.OutOrStdout()
	printer := &replyPrinter{out: out, bridge: a.bridge}
	a.bridge.SetNotify(printer.update)

	id, err := a.bridge.Send(ctx, prompt)
	if err != nil {
		return err
	}

	<-a.bridge.Done(id)
	a.bridge.SetNotify(nil)
	printer.update()
	fmt.Fprintln(out)

	if err := a.bridge.Err(); err != nil {
		return fmt.Errorf("reply failed: %w", err)
	}
	return a.Close()
}

// replyPrinter writes the growing assistant reply to out as it streams
type replyPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	bridge  *bridge.Bridge
	printed int
}

func (p *replyPrinter) update() {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := p.bridge.Live()
	if len(live) == 0 {
		return
	}
	last := live[len(live)-1]
	if last.Role != models.RoleAssistant || len(last.Content) <= p.printed {
		return
	}
	fmt.Fprint(p.out, last.Content[p.printed:])
	p.printed = len(last.Content)
}
