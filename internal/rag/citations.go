package rag

import (
	"log/slog"
	"regexp"
	"slices"
	"strconv"

	"github.com/eddalabs/efni/internal/index"
)

// Citation is a structured reference from the answer back to a chunk that
// was part of the assembled context. Returned to the caller, never persisted.
type Citation struct {
	Chapter string `json:"chapter"`
	Section string `json:"section"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

// excerptRunes bounds Citation.Excerpt: the first 100 runes of the chunk.
const excerptRunes = 100

// Citation markers the prompt teaches the model:
//
//	[Heimild 2]                 1-based index into the context blocks
//	[Heimild 2 - Kafli 3.1: ..]
//	[Kafli 3.1: Titill]         dotted section reference
var (
	heimildMarkerRe = regexp.MustCompile(`\[Heimild\s+(\d+)[^\]]*\]`)
	kafliMarkerRe   = regexp.MustCompile(`\[Kafli\s+(\d+\.\d+)[^\]]*\]`)
)

// MapCitations parses the source markers the model embedded in its answer and
// resolves each to chunk metadata from the assembled context. A marker that
// does not resolve to a chunk actually in context is dropped and logged as an
// anomaly, so hallucinated citations never reach callers; the count of
// dropped markers is returned alongside the citations for telemetry.
// Citations are deduplicated by chunk and ordered by first appearance in the
// answer. An answer with no markers yields an empty slice; that is valid.
func MapCitations(answer string, assembled AssembledContext, logger *slog.Logger) ([]Citation, int) {
	if logger == nil {
		logger = slog.Default()
	}

	type marker struct {
		pos   int
		chunk *index.Chunk
	}
	var markers []marker
	unresolved := 0

	// [Heimild N ...]: resolve N against the context block numbering.
	for _, m := range heimildMarkerRe.FindAllStringSubmatchIndex(answer, -1) {
		numText := answer[m[2]:m[3]]
		n, err := strconv.Atoi(numText)
		if err != nil || n < 1 || n > len(assembled.Chunks) {
			unresolved++
			logger.Warn("citation marker references unknown source",
				"marker", answer[m[0]:m[1]],
				"context_chunks", len(assembled.Chunks),
			)
			continue
		}
		markers = append(markers, marker{pos: m[0], chunk: &assembled.Chunks[n-1].Chunk})
	}

	// [Kafli X.Y ...]: resolve the section against the context, first match
	// in context order wins.
	for _, m := range kafliMarkerRe.FindAllStringSubmatchIndex(answer, -1) {
		section := answer[m[2]:m[3]]
		chunk := findSection(assembled, section)
		if chunk == nil {
			unresolved++
			logger.Warn("citation marker references section not in context",
				"marker", answer[m[0]:m[1]],
				"section", section,
			)
			continue
		}
		markers = append(markers, marker{pos: m[0], chunk: chunk})
	}

	// Order by first appearance, dedupe by chunk.
	slices.SortStableFunc(markers, func(a, b marker) int { return a.pos - b.pos })

	seen := make(map[int64]bool, len(markers))
	citations := make([]Citation, 0, len(markers))
	for _, m := range markers {
		if seen[m.chunk.ID] {
			continue
		}
		seen[m.chunk.ID] = true
		citations = append(citations, Citation{
			Chapter: m.chunk.Chapter,
			Section: m.chunk.Section,
			Title:   m.chunk.Title,
			Excerpt: excerpt(m.chunk.Content),
		})
	}
	return citations, unresolved
}

func findSection(assembled AssembledContext, section string) *index.Chunk {
	for i := range assembled.Chunks {
		if assembled.Chunks[i].Chunk.Section == section {
			return &assembled.Chunks[i].Chunk
		}
	}
	return nil
}

// excerpt returns the first excerptRunes runes of content, with "..." when
// truncated.
func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= excerptRunes {
		return content
	}
	return string(runes[:excerptRunes]) + "..."
}
