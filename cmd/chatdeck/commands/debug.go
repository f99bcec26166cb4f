package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDebugCommand creates the debug-slot command
func NewDebugCommand(opts *rootOptions) *cobra.Command {
	var showRaw bool

	cmd := &cobra.Command{
		Use:   "debug-slot",
		Short: "Inspect the raw stored chat data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebugSlot(cmd, opts, showRaw)
		},
	}
	cmd.Flags().BoolVar(&showRaw, "raw", false, "print the stored blob")

	return cmd
}

func runDebugSlot(cmd *cobra.Command, opts *rootOptions, showRaw bool) error {
	a, err := openStorage(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.adapter.Inspect(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to inspect slot: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Slot: %s\n", info.Slot)
	fmt.Fprintln(out, "==========================================")

	if !info.Exists {
		fmt.Fprintln(out, "Nothing stored yet")
		return nil
	}

	fmt.Fprintf(out, "Stored: %d bytes\n", info.Bytes)
	if info.DecodeError != nil {
		fmt.Fprintf(out, "Decode: failed: %v\n", info.DecodeError)
		fmt.Fprintln(out, "Startup will ignore this data and begin with an empty chat.")
	} else {
		fmt.Fprintf(out, "Decode: ok, %d sessions, opens %s (saved selection %q)\n",
			len(info.Collection.Sessions), activeOnOpen(info.Collection), info.Collection.ActiveID)
		for i, sess := range info.Collection.Sessions {
			fmt.Fprintf(out, "\n--- Session %d ---\n", i+1)
			fmt.Fprintf(out, "ID: %s\n", sess.ID)
			fmt.Fprintf(out, "Title: %s\n", sess.Title)
			fmt.Fprintf(out, "Created: %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Messages: %d\n", len(sess.Messages))
		}
	}

	if showRaw {
		fmt.Fprintf(out, "\n--- Raw ---\n%s\n", info.Raw)
	}
	return nil
}
