package commands

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/quillpress/quill/internal/archive"
	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/internal/collect"
	"github.com/quillpress/quill/internal/config"
	"github.com/quillpress/quill/internal/extract"
	"github.com/quillpress/quill/internal/pipeline"
	"github.com/quillpress/quill/internal/printer"
	"github.com/quillpress/quill/internal/publish"
	"github.com/quillpress/quill/pkg/ledger"
)

var (
	version string
	commit  string
	date    string
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill - Content pipeline orchestrator",
	Long: `Quill collects content from configured sources, normalizes and
archives it, assembles publishable articles with an AI model, and fans
them out to target platforms.

Every item is tracked in a Redis ledger through an explicit lifecycle, so
any run can be inspected, resumed, or re-queued.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "quill.yml", "Path to quill.yml")
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"failed to load configuration",
			err.Error(),
			[]string{fmt.Sprintf("Check that %s exists and is valid YAML", configPath)},
		)
	}
	return cfg, nil
}

// connect opens a ledger client for the configured instance and verifies
// Redis is reachable.
func connect(ctx context.Context, cfg *config.Config) (*ledger.Client, error) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis_url: %w", err)
	}

	client, err := ledger.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.RedisURL),
			[]string{"Check that Redis is running and redis_url is correct"},
		)
	}

	return client, nil
}

// buildEngine wires a full pipeline engine from the configuration.
func buildEngine(cfg *config.Config, client *ledger.Client) (*pipeline.Engine, error) {
	store, err := archive.NewStore(cfg.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive store: %w", err)
	}

	registry, err := publish.NewRegistry(cfg.Platforms)
	if err != nil {
		return nil, fmt.Errorf("invalid platform configuration: %w", err)
	}

	assembler := assemble.NewAssembler(cfg.Assembler.Endpoint, cfg.Assembler.Model, cfg.Assembler.APIKey(), cfg.Assembler.Target, cfg.Assembler.Timeout())

	return pipeline.NewEngine(
		client,
		store,
		collect.NewCollector(0),
		extract.NewExtractor(),
		assembler,
		registry,
		cfg.PlatformNames(),
		pipeline.Policies{
			Collect:  cfg.Retry.Collect.Policy(),
			Extract:  cfg.Retry.Extract.Policy(),
			Assemble: cfg.Retry.Assemble.Policy(),
			Publish:  cfg.Retry.Publish.Policy(),
		},
		cfg.LeaseTTL(),
		cfg.Instance,
	), nil
}
