package analysis

import (
	"fmt"
	"strings"

	"github.com/dkratky/casecoder/internal/models"
)

// knownVocabularyCap bounds the consistency list injected into the
// candidate-theming prompt. Large datasets otherwise grow the prompt without
// bound as the run progresses.
const knownVocabularyCap = 1000

// SystemPrompt frames every annotator call. Phase-specific detail lives in
// the user prompts.
const SystemPrompt = `You are an expert qualitative researcher performing a thematic analysis of free-text case descriptions. You work carefully and consistently across batches.

Always respond with a single valid JSON value in exactly the format requested. Do not include any explanation, commentary, or markdown outside the JSON.`

const codingSpecs = `Perform the initial-coding phase of the thematic analysis: generate initial codes for the case below.

You are provided with all already generated initial codes from the previously analyzed cases. When defining codes try to be consistent so that similar cases are coded consistently. On the other hand, be as specific as possible and do not use overly general codes.`

const themingSpecs = `Perform the candidate-theming phase of the thematic analysis: derive a single candidate theme from the initial codes of the case below.

You are provided with candidate themes already identified in previously analyzed cases. When defining the theme try to be consistent so that similar code sets receive exactly the same theme. Only introduce a new theme when none of the existing ones fits.`

const finalizationSpecs = `Perform the theme-finalization phase of the thematic analysis: consolidate the candidate themes below into a final, refined and consistent set of themes.

All final themes must be mutually exclusive and together cover the whole spectrum of the analyzed data. Merge candidate themes that describe the same underlying phenomenon. Every candidate theme must be mapped to exactly one final theme.`

const assignmentSpecs = `Perform the theme-assignment phase of the thematic analysis: assign exactly one of the identified themes to the case below.

Choose the single best-fitting theme from the list. Do not invent new themes.`

// vocabularyBlock renders a known-label list for prompt injection, or the
// first-batch sentence when the list is empty. Newlines inside labels are
// flattened so one label stays one line.
func vocabularyBlock(labels []string, emptyText string) string {
	if len(labels) == 0 {
		return emptyText
	}
	var b strings.Builder
	for _, l := range labels {
		b.WriteString("- ")
		b.WriteString(strings.ReplaceAll(l, "\n", " "))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// instructionsBlock renders the caller-supplied special instructions, if any.
func instructionsBlock(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return ""
	}
	return fmt.Sprintf(`
SPECIAL INSTRUCTIONS
%s

Prioritize these instructions while maintaining accuracy and consistency with the already identified labels.
`, instructions)
}

func caseBlock(id, text string) string {
	return fmt.Sprintf("CASE TO ANALYZE\nID: %s\n%s\n---", id, text)
}

// buildCodingPrompt produces the user prompt for one initial-coding call.
func buildCodingPrompt(id string, rec *models.CaseRecord, knownCodes []string, instructions string) string {
	return fmt.Sprintf(`%s

ALREADY IDENTIFIED INITIAL CODES
%s
%s
Respond with a JSON object mapping the case ID to an array of short code strings, for example: {%q: ["code one", "code two"]}

%s`,
		codingSpecs,
		vocabularyBlock(knownCodes, "This is the first batch. No initial codes have been assigned yet."),
		instructionsBlock(instructions),
		id,
		caseBlock(id, rec.PromptText()),
	)
}

// buildThemingPrompt produces the user prompt for one candidate-theming call.
func buildThemingPrompt(id string, rec *models.CaseRecord, knownThemes []string, instructions string) string {
	return fmt.Sprintf(`%s

ALREADY IDENTIFIED CANDIDATE THEMES
%s
%s
Respond with a JSON object mapping the case ID to a single theme string, for example: {%q: "theme"}

CASE TO ANALYZE
ID: %s
INITIAL CODES: %s
---`,
		themingSpecs,
		vocabularyBlock(knownThemes, "This is the first batch. Hence, there are no candidate themes identified yet."),
		instructionsBlock(instructions),
		id,
		id,
		strings.Join(rec.Codes, "; "),
	)
}

// buildFinalizationPrompt produces the single whole-dataset consolidation
// prompt. Candidate themes carry their occurrence counts so the model can
// weigh how much data each one covers.
func buildFinalizationPrompt(candidates []labelCount, instructions string) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s (%d data points)\n", strings.ReplaceAll(c.label, "\n", " "), c.count)
	}

	return fmt.Sprintf(`%s

CANDIDATE THEMES TO CONSOLIDATE
%s%s
Respond with a JSON object of this exact shape:
{
  "final_themes": [
    {"name": "...", "description": "...", "merged_from": ["candidate theme", "..."]}
  ],
  "mappings": {"candidate theme": "final theme name", "...": "..."}
}

Every candidate theme listed above must appear as a key in "mappings".`,
		finalizationSpecs,
		strings.TrimRight(b.String(), "\n"),
		instructionsBlock(instructions),
	)
}

// buildAssignmentPrompt produces the user prompt for one theme-assignment
// call. The vocabulary is fixed for the whole run.
func buildAssignmentPrompt(id string, rec *models.CaseRecord, themes []string, instructions string) string {
	return fmt.Sprintf(`%s

THEMES
%s
%s
Respond with a JSON object mapping the case ID to the chosen theme string, for example: {%q: "theme"}

CASE TO ANALYZE
ID: %s
%s
INITIAL CODES: %s
---`,
		assignmentSpecs,
		vocabularyBlock(themes, "No themes were provided."),
		instructionsBlock(instructions),
		id,
		id,
		rec.PromptText(),
		strings.Join(rec.Codes, "; "),
	)
}
