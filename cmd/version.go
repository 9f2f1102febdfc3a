package cmd

import (
	"fmt"
	"os"

	"github.com/eddalabs/efni/internal/config"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func runVersion() {
	fmt.Printf("Efni %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Configuration: failed to load (%v)\n", err)
		return
	}

	fmt.Println("Configuration:")
	fmt.Printf("  LLM provider: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("  Embedding provider: %s (%s, %d dimensions)\n",
		cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	fmt.Printf("  Database: %s:%d/%s\n", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.DBName)

	printKeyStatus("ANTHROPIC_API_KEY")
	printKeyStatus("OPENAI_API_KEY")
	printKeyStatus("GEMINI_API_KEY")
}

// printKeyStatus shows whether an API key is set without revealing it.
func printKeyStatus(name string) {
	key := os.Getenv(name)
	if key == "" {
		fmt.Printf("  %s: not set\n", name)
		return
	}
	if len(key) <= 8 {
		fmt.Printf("  %s: (configured)\n", name)
		return
	}
	fmt.Printf("  %s: %s...%s (configured)\n", name, key[:4], key[len(key)-4:])
}
