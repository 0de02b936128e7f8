package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"clausex.com/clause-qa/internal/store"
)

const (
	DefaultRetrievalK      = 15 // clauses handed to the model
	DefaultRetrievalFetchK = 50 // nearest neighbours considered before diversity reranking

	contextSeparator = "\n\n"
)

// ClauseSearcher is the vector index as seen by retrieval.
type ClauseSearcher interface {
	Search(ctx context.Context, query string, k, fetchK int) ([]store.Clause, error)
}

// RAGService fetches clause text relevant to a query.
type RAGService struct {
	clauses ClauseSearcher
}

func NewRAGService(clauses ClauseSearcher) *RAGService {
	return &RAGService{clauses: clauses}
}

// Retrieve returns up to k clause bodies, most useful first. A sparse index yields fewer
// results, never padding or an error.
func (s *RAGService) Retrieve(ctx context.Context, query string, k, fetchK int) ([]string, error) {
	if k <= 0 {
		k = DefaultRetrievalK
	}
	if fetchK < k {
		fetchK = max(k, DefaultRetrievalFetchK)
	}

	clauses, err := s.clauses.Search(ctx, query, k, fetchK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve clause context: %w", err)
	}
	if len(clauses) > k {
		clauses = clauses[:k]
	}

	texts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		texts = append(texts, c.Text)
	}
	if len(texts) == 0 {
		log.Printf("No clauses found for query: %.80s", query)
	}
	return texts, nil
}

// JoinContext concatenates retrieved clause text into the context blob given to the model.
func JoinContext(texts []string) string {
	return strings.Join(texts, contextSeparator)
}
