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

var (
	listOutputFormat string
	listState        string
	listLimit        int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked content items",
	Long: `List content items in the ledger, newest first.

Output Formats:
  default - Human-readable table with hash, state, version, age, and title
  jsonl   - Line-delimited JSON, one item per line

Examples:
  # List everything
  quill list

  # Only items needing operator attention
  quill list --state done_partial
  quill list --state abandoned

  # Pipe to jq
  quill list --output=jsonl | jq 'select(.state=="abandoned") | .hash'`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	listCmd.Flags().StringVar(&listState, "state", "", "Filter by item state")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Max items to show (0 = all)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var outputFormat inspect.OutputFormat
	switch listOutputFormat {
	case "default":
		outputFormat = inspect.OutputFormatDefault
	case "jsonl":
		outputFormat = inspect.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", listOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	state := ledger.ItemState(listState)
	if listState != "" {
		if err := state.Validate(); err != nil {
			return printer.Error(
				"invalid state filter",
				err.Error(),
				[]string{"Valid states: collected, extracted, archived, assembling, assembled, publishing, done_full, done_partial, abandoned"},
			)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	criteria := &inspect.FilterCriteria{
		State: state,
		Limit: listLimit,
	}
	return inspect.ListItems(ctx, client, cfg.Instance, outputFormat, criteria, os.Stdout)
}
