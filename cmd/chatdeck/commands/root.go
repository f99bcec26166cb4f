package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/strrl/chatdeck/internal/config"
	"github.com/strrl/chatdeck/internal/tui"
)

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	configPath     string
	debug          bool
	provider       string
	model          string
	storageBackend string
	storagePath    string
}

// apply lets command line flags override loaded configuration
func (o *rootOptions) apply(cfg *config.Config) {
	if o.provider != "" {
		cfg.Provider = o.provider
	}
	if o.model != "" {
		cfg.Model = o.model
	}
	if o.storageBackend != "" && o.storageBackend != cfg.Storage.Backend {
		cfg.Storage.Backend = o.storageBackend
		cfg.Storage.Path = config.DefaultStoragePath(o.storageBackend)
	}
	if o.storagePath != "" {
		cfg.Storage.Path = o.storagePath
	}
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "chatdeck",
		Short: "Chat with LLMs in your terminal, with sessions that persist",
		Long: `chatdeck is a terminal chat client. Conversations are kept as sessions
that survive restarts; switch between them while replies stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/chatdeck/config.yaml)")
	flags.BoolVar(&opts.debug, "debug", false, "Run in debug mode (verbose logs, list chats without TUI)")
	flags.StringVar(&opts.provider, "provider", "", "LLM provider: anthropic, openai, deepseek, groq, ollama, echo")
	flags.StringVar(&opts.model, "model", "", "model name, overrides the provider default")
	flags.StringVar(&opts.storageBackend, "storage-backend", "", "where chats are saved: duckdb, sqlite, file, memory")
	flags.StringVar(&opts.storagePath, "storage-path", "", "database or file path for the storage backend")

	rootCmd.AddCommand(NewListCommand(opts))
	rootCmd.AddCommand(NewShowCommand(opts))
	rootCmd.AddCommand(NewNewCommand(opts))
	rootCmd.AddCommand(NewDeleteCommand(opts))
	rootCmd.AddCommand(NewAskCommand(opts))
	rootCmd.AddCommand(NewDebugCommand(opts))
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	// Debug mode: just list chats without TUI
	if opts.debug {
		return runDebugMode(cmd, opts)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) || !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("the chat screen needs a terminal; use 'chatdeck ask' for scripts")
	}

	a, err := openChat(opts)
	if err != nil {
		return err
	}

	runErr := tui.Run(cmd.Context(), a.bridge, tui.Options{Title: a.title()})
	closeErr := a.Close()
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return closeErr
}

func runDebugMode(cmd *cobra.Command, opts *rootOptions) error {
	a, err := openStorage(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== Debug Mode: Configuration and Chats ===")
	fmt.Fprintf(out, "Provider: %s\n", a.cfg.Provider)
	if a.cfg.Model != "" {
		fmt.Fprintf(out, "Model: %s\n", a.cfg.Model)
	}
	fmt.Fprintf(out, "Storage: %s\n", a.adapter.Slot().Describe())

	c, err := a.load(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Chats: %d (active %s)\n", len(c.Sessions), activeOnOpen(c))
	for i, sess := range c.Sessions {
		if i >= 3 {
			fmt.Fprintf(out, "   ... and %d more\n", len(c.Sessions)-3)
			break
		}
		fmt.Fprintf(out, "   - %s (%s, %s)\n", sess.Title, sess.ID, humanize.Time(sess.CreatedAt))
	}
	return nil
}

// readPrompt joins args, or reads stdin when no args are given and stdin is
// not a terminal
func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no prompt given")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	return string(data), nil
}
