package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/quillpress/quill/internal/archive"
	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/internal/collect"
	"github.com/quillpress/quill/internal/config"
	"github.com/quillpress/quill/internal/extract"
	"github.com/quillpress/quill/internal/pipeline"
	"github.com/quillpress/quill/internal/publish"
	"github.com/quillpress/quill/internal/schedule"
	"github.com/quillpress/quill/pkg/ledger"
)

const defaultConfigPath = "quill.yml"

func main() {
	// 1. Load quill.yml configuration
	configPath := os.Getenv("QUILL_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid redis_url: %v\n", err)
		os.Exit(1)
	}

	// 3. Create ledger client
	client, err := ledger.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create ledger client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	// 4. Verify Redis connectivity
	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 5. Open the archive store
	store, err := archive.NewStore(cfg.ArchiveDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open archive store: %v\n", err)
		os.Exit(1)
	}

	// 6. Build the platform adapter registry
	registry, err := publish.NewRegistry(cfg.Platforms)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid platform configuration: %v\n", err)
		os.Exit(1)
	}

	// 7. Assemble the pipeline engine
	assembler := assemble.NewAssembler(cfg.Assembler.Endpoint, cfg.Assembler.Model, cfg.Assembler.APIKey(), cfg.Assembler.Target, cfg.Assembler.Timeout())
	engine := pipeline.NewEngine(
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
	)

	fmt.Printf("quilld starting for instance '%s' with %d platform(s)\n", cfg.Instance, len(cfg.Platforms))

	// 8. Resume items a previous run left mid-pipeline
	resumeInFlight(ctx, client, engine)

	// 9. Start the source scheduler
	scheduler, err := schedule.New(engine, cfg.Sources)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	scheduler.Start()

	// 10. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
	scheduler.Stop()
	fmt.Println("quilld stopped")
}

// resumeInFlight re-drives items that were interrupted mid-pipeline by a
// previous shutdown. Items another runner holds a lease on are skipped.
func resumeInFlight(ctx context.Context, client *ledger.Client, engine *pipeline.Engine) {
	items, err := client.ListItems(ctx, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to list items for resume: %v\n", err)
		return
	}

	resumed := 0
	for _, item := range items {
		if item.State.Terminal() {
			continue
		}
		if _, err := engine.ProcessItem(ctx, item.Hash); err != nil && !errors.Is(err, pipeline.ErrBusy) {
			fmt.Fprintf(os.Stderr, "Warning: Failed to resume item %s: %v\n", item.Hash, err)
			continue
		}
		resumed++
	}
	if resumed > 0 {
		fmt.Printf("Resumed %d in-flight item(s)\n", resumed)
	}
}
