package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillpress/quill/internal/inspect"
	"github.com/quillpress/quill/internal/printer"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream item state changes in real time",
	Long: `Stream item lifecycle events as they happen.

Every state transition in the ledger is published as an event; this
command renders them until interrupted.

Output Formats:
  default - One human-readable line per event
  jsonl   - Line-delimited JSON for programmatic processing

Examples:
  # Watch all activity
  quill watch

  # Export events as JSONL
  quill watch --output=jsonl > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var outputFormat inspect.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = inspect.OutputFormatDefault
	case "jsonl":
		outputFormat = inspect.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	printer.Printf("Watching instance '%s' (Ctrl-C to stop)\n", cfg.Instance)
	return inspect.StreamEvents(ctx, client, outputFormat, os.Stdout)
}
