package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eddalabs/efni/internal/app"
	"github.com/eddalabs/efni/internal/config"
)

// runStats prints corpus statistics and pipeline counters.
func runStats() error {
	statsFlags := flag.NewFlagSet("stats", flag.ContinueOnError)
	statsFlags.SetOutput(os.Stderr)
	asJSON := statsFlags.Bool("json", false, "print statistics as JSON")
	if err := statsFlags.Parse(os.Args[2:]); err != nil {
		return fmt.Errorf("parsing stats flags: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.ValidateProviderKeys(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close() //nolint:errcheck

	stats, err := a.Pipeline.Stats(ctx)
	if err != nil {
		return fmt.Errorf("fetching stats: %w", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Println("Corpus:")
	fmt.Printf("  Chunks:   %d\n", stats.Corpus.TotalChunks)
	fmt.Printf("  Chapters: %d\n", stats.Corpus.Chapters)
	fmt.Printf("  Sections: %d\n", stats.Corpus.Sections)
	fmt.Println("Pipeline:")
	fmt.Printf("  Model:   %s\n", stats.Model)
	fmt.Printf("  TopK:    %d\n", stats.TopK)
	fmt.Printf("  Breaker: %s\n", stats.Breaker)
	return nil
}
