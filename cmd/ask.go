package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/eddalabs/efni/internal/app"
	"github.com/eddalabs/efni/internal/config"
	"github.com/eddalabs/efni/internal/rag"
)

// runAsk answers one question from the command line and prints the answer
// with its citations.
func runAsk() error {
	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	chapter := askFlags.String("chapter", "", "restrict retrieval to one chapter")
	topK := askFlags.Int("top-k", 0, "number of chunks to retrieve (1-10, 0 = default)")
	askFlags.IntVar(topK, "k", 0, "shorthand for -top-k")
	asJSON := askFlags.Bool("json", false, "print the full result as JSON")

	args := os.Args[2:]
	var questionParts []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		questionParts = append(questionParts, args[0])
		args = args[1:]
	}
	if err := askFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}
	questionParts = append(questionParts, askFlags.Args()...)

	question := strings.TrimSpace(strings.Join(questionParts, " "))
	if question == "" {
		return fmt.Errorf("usage: efni ask <question>")
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

	result, err := a.Pipeline.Ask(ctx, rag.Question{
		Text:       question,
		Chapter:    *chapter,
		MaxResults: *topK,
	})
	if err != nil {
		kind, _ := rag.KindOf(err)
		return fmt.Errorf("%s: %w", kind, err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printResult(result)
	return nil
}

func printResult(result *rag.QueryResult) {
	fmt.Println(result.Answer)

	if len(result.Citations) > 0 {
		fmt.Println()
		fmt.Println("Heimildir:")
		for _, c := range result.Citations {
			fmt.Printf("  [Kafli %s] %s\n", c.Section, c.Title)
		}
	}

	fmt.Println()
	fmt.Printf("(%d/%d heimildir, %d tókar, %dms)\n",
		result.ChunksUsed, result.ChunksFound,
		result.Tokens.Total(),
		result.Timing.Total.Milliseconds())
}
