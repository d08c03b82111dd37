package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillpress/quill/internal/inspect"
	"github.com/quillpress/quill/internal/printer"
	"github.com/quillpress/quill/pkg/ledger"
)

var showCmd = &cobra.Command{
	Use:   "show HASH",
	Short: "Show full details of one content item",
	Long: `Display one item as pretty-printed JSON: its record, per-platform
publish outcomes, and the tail of its attempt journal.

Supports short hash prefixes (e.g. "a3f9b2" instead of the full hash).

Examples:
  # Show by short hash
  quill show a3f9b2

  # Pipe to jq
  quill show a3f9b2 | jq .outcomes`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	hash, err := inspect.ResolveItemHash(ctx, client, args[0])
	if err != nil {
		return printer.Error(
			fmt.Sprintf("could not resolve item %q", args[0]),
			err.Error(),
			[]string{"List items with: quill list"},
		)
	}

	if err := inspect.ShowItem(ctx, client, hash, os.Stdout); err != nil {
		if ledger.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("item %q not found", hash),
				"The item was resolved but could not be fetched.",
				[]string{"This might indicate a race condition. Try again."},
			)
		}
		return err
	}
	return nil
}
