package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewNewCommand creates the new command
func NewNewCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start an empty chat and make it active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openChat(opts)
			if err != nil {
				return err
			}

			if err := a.bridge.Start(cmd.Context()); err != nil {
				a.Close()
				return err
			}
			sess := a.bridge.New()
			if err := a.Close(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat",
		Long: `Delete a saved chat by ID or unique ID prefix. Deleting the active chat
activates the most recent remaining one, or a new empty chat.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openChat(opts)
			if err != nil {
				return err
			}

			if err := a.bridge.Start(cmd.Context()); err != nil {
				a.Close()
				return err
			}

			id, err := resolveID(a.store.Snapshot().Sessions, args[0])
			if err != nil {
				a.Close()
				return err
			}
			sess, _ := a.store.Get(id)
			a.bridge.Delete(id)
			if err := a.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat '%s' (%s)\n", sess.Title, id)
			return nil
		},
	}
}
