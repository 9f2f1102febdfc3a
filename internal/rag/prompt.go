package rag

import (
	"fmt"

	"github.com/eddalabs/efni/internal/llm"
)

// systemPrompt is the fixed Icelandic tutoring persona. It instructs the
// model to answer in Icelandic, build on the supplied sources and cite them
// inline with [Kafli X.Y: Titill] markers.
const systemPrompt = `Þú ert efnafræðikennari fyrir nemendur í framhaldsskóla á Íslandi.

Hlutverk þitt:
- Svara spurningum um efnafræði á skýran og nákvæman hátt
- Nota íslenska efnafræðihugtök rétt
- Útskýra flókin hugtök með einföldum dæmum
- Vera hvetjandi og stuðningsfullur
- Vísa alltaf í upprunagögn þegar þú svarar

Reglur:
1. Svara ALLTAF á íslensku
2. Notaðu nákvæma efnafræðihugtök
3. Ef þú ert ekki viss, segðu það hreinskilnislega
4. Byggðu svör þín á uppgefnum heimildum
5. Ef spurning er óljós, biddu um skýringar
6. Notaðu dæmi úr daglegu lífi þegar það á við

Sniðmát svara:
- Byrjaðu með beinu svari við spurningunni
- Útskýrðu nánar með dæmum ef við á
- Endaðu með tengdum upplýsingum sem gætu verið gagnlegar
- Vísa í heimildir með [Kafli X.Y: Titill]

Mundu: Markmið þitt er að hjálpa nemendum að skilja efnafræði, ekki bara að gefa þeim svör.`

// userPromptTemplate wraps the rendered context and the verbatim question.
const userPromptTemplate = `Byggðu á eftirfarandi heimildum til að svara spurningunni.

HEIMILDIR:
%s

SPURNING: %s

Svaraðu á íslensku og vísa í heimildir með [Kafli X.Y: Titill] þegar við á.`

// noContextNote replaces the context block when retrieval found nothing but
// the pipeline is configured to ask the model anyway.
const noContextNote = "(Engar heimildir fundust fyrir þessa spurningu.)"

// BuildPrompt composes the LLM request from the question and the assembled
// context. Composition is deterministic; temperature and max tokens come
// from configuration.
//
// If the estimated prompt size exceeds tokenBudget, context chunks are
// dropped from the tail of the assembled order (never the question, never a
// partial chunk) until the prompt fits or one chunk remains. Assemble puts
// section-cap relaxation re-admissions last, so redundant-section extras are
// shed before the diverse core; within the core the tail is the
// lowest-similarity chunk. The number of dropped chunks is returned so the
// pipeline can record that trimming happened; the context actually used
// (possibly shorter than the input) is returned alongside for citation
// mapping.
func BuildPrompt(question string, assembled AssembledContext, temperature float32,
	maxTokens, tokenBudget int) (llm.Request, AssembledContext, int) {

	trimmed := 0
	for {
		req := llm.Request{
			System:      systemPrompt,
			User:        renderUserPrompt(question, assembled),
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}
		if tokenBudget <= 0 || len(assembled.Chunks) <= 1 {
			return req, assembled, trimmed
		}
		if llm.EstimateTokens(req.System)+llm.EstimateTokens(req.User) <= tokenBudget {
			return req, assembled, trimmed
		}

		// Drop the tail chunk: relaxation re-admissions sit last, so
		// redundant sections go before the diverse core.
		kept := assembled.Chunks[:len(assembled.Chunks)-1]
		assembled = AssembledContext{Chunks: kept, Text: renderContext(kept)}
		trimmed++
	}
}

func renderUserPrompt(question string, assembled AssembledContext) string {
	contextBlock := assembled.Text
	if contextBlock == "" {
		contextBlock = noContextNote
	}
	return fmt.Sprintf(userPromptTemplate, contextBlock, question)
}
