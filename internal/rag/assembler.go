package rag

import (
	"fmt"
	"strings"

	"github.com/eddalabs/efni/internal/index"
)

// AssembledContext is the bounded, ordered set of chunks selected for one
// query plus the rendered text block handed to the prompt builder.
// Ephemeral: one per query.
type AssembledContext struct {
	Chunks []index.SearchResult
	Text   string
}

// Empty reports whether no chunks survived selection.
func (a AssembledContext) Empty() bool { return len(a.Chunks) == 0 }

// Assemble selects at most maxChunks candidates in similarity order, applying
// a diversity rule: no more than sectionCap chunks from the same
// (chapter, section) pair. Near-duplicate passages cluster in one section, so
// the cap keeps the context from being four paraphrases of the same
// paragraph.
//
// If the cap leaves slots unfilled while skipped candidates remain, a single
// relaxation pass re-admits the skipped candidates in strict similarity order
// until maxChunks or exhaustion. Under-filling the context is worse than
// redundancy when material is scarce.
//
// Empty candidates yield an empty context, not an error; the pipeline decides
// what that means.
func Assemble(candidates []index.SearchResult, maxChunks, sectionCap int) AssembledContext {
	if maxChunks < 1 || len(candidates) == 0 {
		return AssembledContext{}
	}
	if sectionCap < 1 {
		sectionCap = 1
	}

	selected := make([]index.SearchResult, 0, maxChunks)
	var skipped []index.SearchResult
	perSection := make(map[string]int)

	for _, c := range candidates {
		if len(selected) == maxChunks {
			break
		}
		key := c.Chunk.Chapter + "|" + c.Chunk.Section
		if perSection[key] >= sectionCap {
			skipped = append(skipped, c)
			continue
		}
		perSection[key]++
		selected = append(selected, c)
	}

	// Relaxation pass: fill remaining slots from the skipped candidates,
	// cap ignored, similarity order preserved.
	for _, c := range skipped {
		if len(selected) == maxChunks {
			break
		}
		selected = append(selected, c)
	}

	return AssembledContext{
		Chunks: selected,
		Text:   renderContext(selected),
	}
}

// renderContext renders the selected chunks as numbered source blocks:
//
//	[Heimild 1 - Kafli 3.1: Sýrur og basar]
//	<content>
//	---
//	[Heimild 2 - ...]
//
// The 1-based Heimild numbers are the identifiers the prompt teaches the
// model to cite, and the numbers the citation mapper resolves.
func renderContext(chunks []index.SearchResult) string {
	if len(chunks) == 0 {
		return ""
	}
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf("[Heimild %d - Kafli %s: %s]\n%s",
			i+1, c.Chunk.Section, c.Chunk.Title, c.Chunk.Content)
	}
	return strings.Join(blocks, "\n---\n")
}
