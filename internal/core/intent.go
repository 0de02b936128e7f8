package core

import (
	"context"
	"fmt"
	"strings"
)

// Intent labels which prompt strategy answers a query.
type Intent string

const (
	IntentDefinitionQuery     Intent = "DefinitionQuery"
	IntentClauseRetrieval     Intent = "ClauseRetrieval"
	IntentComparativeAnalysis Intent = "ComparativeAnalysis"
	IntentUnknown             Intent = "Unknown"
)

// KnownIntents are the labels the classifier is allowed to produce.
var KnownIntents = []Intent{IntentDefinitionQuery, IntentClauseRetrieval, IntentComparativeAnalysis}

const classificationPrompt = `You are a legal AI assistant that classifies user queries based on their intent.

Your task is to analyze any kind of user query — whether short, long, or complex — and classify it into **exactly one** of the following three categories:

1. DefinitionQuery: If the user is asking for the meaning, explanation, or definition of a legal term or concept.
2. ClauseRetrieval: If the user is asking to find, show, or understand a specific clause from a contract or document.
3. ComparativeAnalysis: If the user is asking to compare clauses or legal elements between two or more documents.

Return only one of these three words exactly: ` + "`DefinitionQuery`, `ClauseRetrieval`, or `ComparativeAnalysis`." + `
Do not provide any explanation.

---

User Query: "%s"

Answer:
`

// ParseIntent maps raw model output onto a known intent. Surrounding whitespace, markdown
// emphasis, quotes and periods are stripped; any other deviation is IntentUnknown.
func ParseIntent(raw string) Intent {
	label := strings.Trim(raw, "`\"'*. \t\r\n")
	for _, known := range KnownIntents {
		if label == string(known) {
			return known
		}
	}
	return IntentUnknown
}

type IntentClassifier struct {
	generator TextGenerator
}

func NewIntentClassifier(generator TextGenerator) *IntentClassifier {
	return &IntentClassifier{generator: generator}
}

// Classify issues one completion request. It never retries and only fails when the
// provider does; unrecognised output is IntentUnknown.
func (c *IntentClassifier) Classify(ctx context.Context, query string) (Intent, error) {
	raw, err := c.generator.Generate(ctx, fmt.Sprintf(classificationPrompt, query))
	if err != nil {
		return IntentUnknown, fmt.Errorf("intent classification failed: %w", err)
	}
	return ParseIntent(raw), nil
}
