package core

import (
	"context"
	"sync"

	"clausex.com/clause-qa/internal/store"
)

type stubGenerator struct {
	mu      sync.Mutex
	prompts []string
	replies []string // consumed in order; the last one repeats
	errs    []error  // consumed in order alongside replies
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)

	var err error
	if len(g.errs) > 0 {
		err, g.errs = g.errs[0], g.errs[1:]
	}
	if err != nil {
		return "", err
	}
	reply := ""
	if len(g.replies) > 0 {
		reply = g.replies[0]
		if len(g.replies) > 1 {
			g.replies = g.replies[1:]
		}
	}
	return reply, nil
}

func (g *stubGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type stubClassifier struct {
	intent Intent
	err    error
}

func (c stubClassifier) Classify(context.Context, string) (Intent, error) {
	return c.intent, c.err
}

type stubRetriever struct {
	passages []string
	err      error
	calls    int
}

func (r *stubRetriever) Retrieve(context.Context, string, int, int) ([]string, error) {
	r.calls++
	return r.passages, r.err
}

type stubSearcher struct {
	clauses []store.Clause
	err     error
	gotK    int
	gotF    int
}

func (s *stubSearcher) Search(_ context.Context, _ string, k, fetchK int) ([]store.Clause, error) {
	s.gotK, s.gotF = k, fetchK
	return s.clauses, s.err
}

type stubAnswerer struct {
	answer  string
	err     error
	queries []string
}

func (a *stubAnswerer) Answer(_ context.Context, query string) (string, error) {
	a.queries = append(a.queries, query)
	return a.answer, a.err
}

type memoryTurns struct {
	mu        sync.Mutex
	turns     []store.Turn
	insertErr error
	listErr   error
}

func (m *memoryTurns) InsertTurn(_ context.Context, turn *store.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	turn.ID = int64(len(m.turns) + 1)
	m.turns = append(m.turns, *turn)
	return nil
}

func (m *memoryTurns) ListTurns(_ context.Context, sessionID string, limit int) ([]store.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []store.Turn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type recordingIndexer struct {
	mu      sync.Mutex
	added   []store.Clause
	rebuilt []store.Clause
	err     error
	calls   int
}

func (r *recordingIndexer) AddClauses(_ context.Context, clauses []store.Clause) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	r.added = append(r.added, clauses...)
	return len(clauses), nil
}

func (r *recordingIndexer) Rebuild(_ context.Context, clauses []store.Clause) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	r.rebuilt = append([]store.Clause(nil), clauses...)
	return len(clauses), nil
}

type recordingMetadata struct {
	mu       sync.Mutex
	inserted []store.Clause
	replaced []store.Clause
	err      error
	calls    int
}

func (r *recordingMetadata) InsertClauseMetadata(_ context.Context, clauses []store.Clause) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.inserted = append(r.inserted, clauses...)
	return nil
}

func (r *recordingMetadata) ReplaceClauseMetadata(_ context.Context, clauses []store.Clause) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.replaced = append([]store.Clause(nil), clauses...)
	return nil
}
