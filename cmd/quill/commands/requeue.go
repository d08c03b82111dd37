package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillpress/quill/internal/inspect"
	"github.com/quillpress/quill/internal/pipeline"
	"github.com/quillpress/quill/internal/printer"
)

var requeueRun bool

var requeueCmd = &cobra.Command{
	Use:   "requeue HASH",
	Short: "Re-queue a partially failed or abandoned item",
	Long: `Reset a done_partial or abandoned item so it can run again.

Platforms that already succeeded are left alone; failed platforms get a
fresh attempt budget. The item restarts at the latest stage its stored
artifacts support.

By default this only resets the item; pass --run to re-drive it
immediately.

Examples:
  # Reset an item, let the daemon pick it up
  quill requeue a3f9b2

  # Reset and run through the pipeline now
  quill requeue a3f9b2 --run`,
	Args: cobra.ExactArgs(1),
	RunE: runRequeue,
}

func init() {
	requeueCmd.Flags().BoolVar(&requeueRun, "run", false, "Re-drive the item immediately after resetting it")
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) error {
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
			[]string{"List re-queueable items with: quill list --state done_partial"},
		)
	}

	engine, err := buildEngine(cfg, client)
	if err != nil {
		return err
	}

	item, err := engine.Requeue(ctx, hash)
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			printer.Warning("Item is already being processed by another runner\n")
			return nil
		}
		return err
	}
	printer.Success("Item %s re-queued at state %s\n", item.Hash[:12], item.State)

	if !requeueRun {
		return nil
	}

	item, err = engine.ProcessItem(ctx, hash)
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			printer.Warning("Item is already being processed by another runner\n")
			return nil
		}
		return err
	}
	printer.Success("Item %s settled as %s\n", item.Hash[:12], item.State)
	return nil
}
