// Package cmd provides the efni CLI commands.
//
// Commands:
//   - serve: HTTP question-answering API
//   - ask: one-shot question from the terminal
//   - ingest: offline markdown ingestion into the chunk index
//   - stats: corpus and pipeline statistics
//   - doctor: setup validation (config, database, providers)
//
// Signal handling and graceful shutdown are implemented for all commands
// via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Execute is the main entry point for the efni CLI.
func Execute() error {
	// Entry-point logger; serve replaces it with the configured one.
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "ask":
		return runAsk()
	case "ingest":
		return runIngest()
	case "stats":
		return runStats()
	case "doctor":
		return runDoctor()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Efni - Icelandic chemistry tutor API")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  efni serve [addr]              Start the HTTP API server")
	fmt.Println("  efni ask <question>            Ask a question from the terminal")
	fmt.Println("  efni ingest <file-or-dir>      Ingest markdown curriculum files")
	fmt.Println("  efni stats                     Show corpus and pipeline statistics")
	fmt.Println("  efni doctor                    Validate configuration and connectivity")
	fmt.Println("  efni version                   Show version information")
	fmt.Println("  efni help                      Show this help")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  ask:    -chapter N   restrict retrieval to one chapter")
	fmt.Println("          -top-k N     number of chunks to retrieve (1-10), also -k")
	fmt.Println("          -json        print the full result as JSON")
	fmt.Println("  ingest: -replace     delete each touched chapter before inserting")
	fmt.Println("  serve:  -addr        listen address (host:port)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  ANTHROPIC_API_KEY  Anthropic key (llm.provider=anthropic)")
	fmt.Println("  OPENAI_API_KEY     OpenAI key (embedding.provider=openai)")
	fmt.Println("  GEMINI_API_KEY     Google key (provider=google)")
	fmt.Println("  DATABASE_URL       PostgreSQL connection URL")
	fmt.Println("  DEBUG              Enable debug logging")
}
