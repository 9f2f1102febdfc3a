package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/eddalabs/efni/internal/app"
	"github.com/eddalabs/efni/internal/config"
	"github.com/eddalabs/efni/internal/ingest"
)

// runIngest chunks, embeds, and indexes markdown curriculum files.
func runIngest() error {
	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)
	replace := ingestFlags.Bool("replace", false, "delete each touched chapter's chunks before inserting")

	args := os.Args[2:]
	var path string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		path = args[0]
		args = args[1:]
	}
	if err := ingestFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}
	if path == "" && ingestFlags.NArg() > 0 {
		path = ingestFlags.Arg(0)
	}
	if path == "" {
		return fmt.Errorf("usage: efni ingest <file-or-dir.md> [-replace]")
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

	ing := ingest.NewIngester(a.Embedder, a.Index, ingest.Config{
		DataDir:   cfg.Ingest.DataDir,
		LockFile:  cfg.Ingest.LockFile,
		BatchSize: cfg.Embedding.BatchSize,
		Replace:   *replace,
	}, a.Logger)

	summary, err := ing.Run(ctx, path)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Ingested %d file(s): %d chunks, %d inserted, %d deleted, %d warning(s)\n",
		summary.Files, summary.Chunks, summary.Inserted, summary.Deleted, summary.Warnings)
	return nil
}
