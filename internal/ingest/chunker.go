// Package ingest turns markdown curriculum files into embedded, indexed
// chunks. It is offline tooling: the serve path never imports it.
package ingest

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
)

// Word-count bounds for one chunk. Accumulated paragraphs close a chunk when
// the next paragraph would push past targetMaxWords (once minTargetWords is
// reached) or past hardMaxWords.
const (
	minChunkWords  = 200
	minTargetWords = 400
	targetMaxWords = 600
	hardMaxWords   = 1000
)

var (
	chapterHeaderRe = regexp.MustCompile(`(?i)^#\s+kafli\s+(\d+)\s*:\s*(.+?)\s*$`)
	sectionHeaderRe = regexp.MustCompile(`^##\s+(\d+\.\d+)\s+(.+?)\s*$`)
)

// Chunk is one ingestible unit of curriculum text, not yet embedded.
type Chunk struct {
	Key       string
	Content   string
	Chapter   string
	Section   string
	Title     string
	WordCount int
}

// ChunkMarkdown splits one markdown document into chunks. Chapter headers
// look like "# Kafli 3: Sýrur og basar", section headers like
// "## 3.1 Eiginleikar sýra"; everything else is body text attributed to the
// current section. Text before the first section header is dropped with a
// warning from Validate, not an error here.
func ChunkMarkdown(content string) ([]Chunk, error) {
	var (
		chunks  []Chunk
		builder = chunkBuilder{}
	)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraph []string
	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		text := strings.Join(paragraph, "\n")
		paragraph = paragraph[:0]
		chunks = append(chunks, builder.add(text)...)
	}

	for scanner.Scan() {
		line := scanner.Text()

		if m := chapterHeaderRe.FindStringSubmatch(line); m != nil {
			flushParagraph()
			chunks = append(chunks, builder.flush()...)
			builder.chapter = m[1]
			builder.section = ""
			builder.title = ""
			continue
		}
		if m := sectionHeaderRe.FindStringSubmatch(line); m != nil {
			flushParagraph()
			chunks = append(chunks, builder.flush()...)
			builder.section = m[1]
			builder.title = m[2]
			builder.ordinal = 0
			continue
		}
		if strings.TrimSpace(line) == "" {
			flushParagraph()
			continue
		}
		paragraph = append(paragraph, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning markdown: %w", err)
	}

	flushParagraph()
	chunks = append(chunks, builder.flush()...)
	return mergeTrailing(chunks), nil
}

// chunkBuilder accumulates paragraphs for the current (chapter, section) and
// emits chunks when the size rules say so.
type chunkBuilder struct {
	chapter string
	section string
	title   string
	ordinal int

	paragraphs []string
	words      int
}

// add appends one paragraph, emitting a completed chunk first when the
// paragraph would overflow the current one.
func (b *chunkBuilder) add(paragraph string) []Chunk {
	if b.section == "" {
		// Preamble text outside any section is not ingestible.
		return nil
	}

	var emitted []Chunk
	pWords := wordCount(paragraph)

	overTarget := b.words >= minTargetWords && b.words+pWords > targetMaxWords
	overHard := b.words > 0 && b.words+pWords > hardMaxWords
	if overTarget || overHard {
		emitted = append(emitted, b.emit())
	}

	b.paragraphs = append(b.paragraphs, paragraph)
	b.words += pWords
	return emitted
}

// flush emits whatever is accumulated, for section/chapter boundaries and
// end of input.
func (b *chunkBuilder) flush() []Chunk {
	if len(b.paragraphs) == 0 {
		return nil
	}
	return []Chunk{b.emit()}
}

func (b *chunkBuilder) emit() Chunk {
	c := Chunk{
		Key:       fmt.Sprintf("k%s-%d", b.section, b.ordinal),
		Content:   strings.Join(b.paragraphs, "\n\n"),
		Chapter:   b.chapter,
		Section:   b.section,
		Title:     b.title,
		WordCount: b.words,
	}
	b.ordinal++
	b.paragraphs = nil
	b.words = 0
	return c
}

// mergeTrailing folds undersized chunks into the preceding chunk of the same
// section when the merged size stays within the hard max.
func mergeTrailing(chunks []Chunk) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	out := chunks[:1]
	for _, c := range chunks[1:] {
		prev := &out[len(out)-1]
		if c.WordCount < minChunkWords &&
			c.Section == prev.Section &&
			prev.WordCount+c.WordCount <= hardMaxWords {
			prev.Content += "\n\n" + c.Content
			prev.WordCount += c.WordCount
			continue
		}
		out = append(out, c)
	}
	return renumber(out)
}

// renumber reassigns per-section ordinals after merging closed gaps.
func renumber(chunks []Chunk) []Chunk {
	ordinals := make(map[string]int)
	for i := range chunks {
		section := chunks[i].Section
		chunks[i].Key = fmt.Sprintf("k%s-%d", section, ordinals[section])
		ordinals[section]++
	}
	return chunks
}

// Validate reports soft problems with a chunk. Ingestion logs these and
// continues; only empty content is fatal at insert time.
func (c Chunk) Validate() []string {
	var warnings []string
	if strings.TrimSpace(c.Content) == "" {
		warnings = append(warnings, "empty content")
	}
	if c.Chapter == "" || c.Section == "" {
		warnings = append(warnings, "missing chapter or section metadata")
	}
	if c.WordCount < minChunkWords {
		warnings = append(warnings, fmt.Sprintf("under %d words (%d)", minChunkWords, c.WordCount))
	}
	if c.WordCount > hardMaxWords {
		warnings = append(warnings, fmt.Sprintf("over %d words (%d)", hardMaxWords, c.WordCount))
	}
	return warnings
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
