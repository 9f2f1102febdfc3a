package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddalabs/efni/internal/app"
	"github.com/eddalabs/efni/internal/config"
	"github.com/eddalabs/efni/internal/llm"
)

const doctorProbeTimeout = 30 * time.Second

// runDoctor validates the full setup: configuration, database connectivity,
// corpus, and both providers, including an Icelandic round-trip through the
// LLM. Exits non-zero on the first failed check.
func runDoctor() error {
	fmt.Println("efni doctor")

	cfg, err := config.Load()
	if err != nil {
		return report("config", err)
	}
	ok("config loaded")

	if err = cfg.ValidateProviderKeys(); err != nil {
		return report("credentials", err)
	}
	ok("provider credentials present")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return report("database", err)
	}
	defer a.Close() //nolint:errcheck
	ok("database reachable, migrations applied")

	count, err := a.Index.Count(ctx)
	if err != nil {
		return report("corpus", err)
	}
	if count == 0 {
		fmt.Println("  ⚠ corpus is empty; run 'efni ingest' before serving")
	} else {
		ok(fmt.Sprintf("corpus has %d chunks", count))
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer probeCancel()

	vec, err := a.Embedder.Embed(probeCtx, "prufa")
	if err != nil {
		return report("embedding provider", err)
	}
	ok(fmt.Sprintf("embedding provider responds (%d dimensions)", len(vec.Values)))

	if err := llm.ValidateIcelandic(probeCtx, a.LLM); err != nil {
		return report("llm Icelandic round-trip", err)
	}
	ok("llm answers and preserves Icelandic characters")

	fmt.Println("All checks passed.")
	return nil
}

func ok(msg string) {
	fmt.Printf("  ✓ %s\n", msg)
}

func report(check string, err error) error {
	fmt.Printf("  ✗ %s\n", check)
	return fmt.Errorf("%s: %w", check, err)
}
