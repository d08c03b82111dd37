package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/quillpress/quill/internal/pipeline"
	"github.com/quillpress/quill/internal/printer"
)

var collectCmd = &cobra.Command{
	Use:   "collect URL",
	Short: "Run the pipeline for a single source",
	Long: `Collect one source reference and drive it through the full
pipeline: extraction, archival, assembly, and publication.

The command blocks until the item reaches a terminal state or a stage
fails. Running it again for unchanged content is a no-op once the item
has settled.

Examples:
  # Process one article
  quill collect https://example.com/post

  # Against a specific config
  quill collect --config prod.yml https://example.com/post`,
	Args: cobra.ExactArgs(1),
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sourceRef := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	engine, err := buildEngine(cfg, client)
	if err != nil {
		return err
	}

	item, err := engine.ProcessSource(ctx, sourceRef)
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			printer.Warning("Source is already being processed by another runner\n")
			return nil
		}
		return err
	}

	switch {
	case item.State.Requeueable():
		printer.Warning("Item %s settled as %s\n", item.Hash[:12], item.State)
		printer.Printf("Inspect it with: quill show %s\n", item.Hash[:12])
	default:
		printer.Success("Item %s settled as %s\n", item.Hash[:12], item.State)
	}
	return nil
}
