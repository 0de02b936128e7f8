package core

import "fmt"

// PromptKind is the closed set of answer prompts. Every Intent resolves to exactly one.
type PromptKind int

const (
	PromptRephrase PromptKind = iota
	PromptDefinition
	PromptClause
	PromptComparison

	promptKindCount
)

func (k PromptKind) String() string {
	switch k {
	case PromptDefinition:
		return "definition"
	case PromptClause:
		return "clause"
	case PromptComparison:
		return "comparison"
	default:
		return "rephrase"
	}
}

// The three answer templates take the query then the context. The rephrase template only
// takes the query.
var promptTemplates = [promptKindCount]string{
	PromptDefinition: `You are a legal assistant. Define the legal term in the query using only the provided context.

Respond directly — do not say "Based on the context" or use passive or indirect phrasing.

Query: %[1]s

Context:
%[2]s
`,
	PromptClause: `You are a legal assistant. Extract and explain the clause mentioned in the query using only the text from the provided context.

Do NOT begin your response with phrases like "Based on the context" or "It appears that". Respond clearly and directly.

Query: %[1]s

Context:
%[2]s
`,
	PromptComparison: `You are a legal assistant. Compare the legal clauses mentioned in the query using only the content from the provided context.

Write a clear comparison. Do NOT use hedging phrases like "Based on the provided context". If any clause is missing, state it plainly.

Query: %[1]s

Context:
%[2]s
`,
	PromptRephrase: `The query you asked cannot be classified into a known legal intent.
Query: "%[1]s"

We support only:
1. DefinitionQuery (ask for meaning)
2. ClauseRetrieval (ask for a clause)
3. ComparativeAnalysis (compare legal clauses)

Please rephrase your question accordingly.
`,
}

// SelectPrompt maps an intent to its prompt. Anything outside the known intents,
// including IntentUnknown, gets the rephrase prompt.
func SelectPrompt(intent Intent) PromptKind {
	switch intent {
	case IntentDefinitionQuery:
		return PromptDefinition
	case IntentClauseRetrieval:
		return PromptClause
	case IntentComparativeAnalysis:
		return PromptComparison
	default:
		return PromptRephrase
	}
}

// RenderPrompt is pure: same inputs, same prompt. The rephrase prompt ignores context.
func RenderPrompt(intent Intent, query, context string) string {
	kind := SelectPrompt(intent)
	if kind == PromptRephrase {
		return fmt.Sprintf(promptTemplates[kind], query)
	}
	return fmt.Sprintf(promptTemplates[kind], query, context)
}
