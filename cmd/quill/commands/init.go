package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillpress/quill/internal/scaffold"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new quill project",
	Long: `Initialize a new quill project with a starter configuration.

Creates:
  • quill.yml - Project configuration file

Edit the generated file to point at your Redis instance, assembler
endpoint and target platforms, then set the credential environment
variables it references.

Use --force to reinitialize an existing project (WARNING: overwrites the existing configuration).`,
	RunE: runInit,
}

func init() {
	// Note: Cannot use -f shorthand because it conflicts with global --config flag
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing quill.yml)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if err := scaffold.CheckExisting(); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()

	return nil
}
