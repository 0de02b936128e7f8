package core

import (
	"context"
	"fmt"
	"strings"

	"clausex.com/clause-qa/internal/store"
)

// TurnStore persists conversation turns.
type TurnStore interface {
	InsertTurn(ctx context.Context, turn *store.Turn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]store.Turn, error)
}

// SessionManager threads prior turns of a session into new queries.
type SessionManager struct {
	turns TurnStore
	// maxHistoryTurns keeps only the most recent turns; 0 keeps all of them.
	maxHistoryTurns int
}

func NewSessionManager(turns TurnStore, maxHistoryTurns int) *SessionManager {
	if maxHistoryTurns < 0 {
		maxHistoryTurns = 0
	}
	return &SessionManager{turns: turns, maxHistoryTurns: maxHistoryTurns}
}

// BuildContext renders the session's history followed by the new question, awaiting the
// assistant's reply. This is the query handed to the QueryRouter.
func (m *SessionManager) BuildContext(ctx context.Context, sessionID, question string) (string, error) {
	turns, err := m.turns.ListTurns(ctx, sessionID, m.maxHistoryTurns)
	if err != nil {
		return "", fmt.Errorf("%w: failed to load session %s: %w", ErrStore, sessionID, err)
	}
	return RenderHistory(turns, question), nil
}

// RenderHistory writes turns oldest first as User/Assistant lines, then the new question.
func RenderHistory(turns []store.Turn, question string) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Question, t.Response)
	}
	fmt.Fprintf(&b, "User: %s\nAssistant:", question)
	return b.String()
}

func (m *SessionManager) RecordTurn(ctx context.Context, sessionID, question, response string) error {
	turn := &store.Turn{
		SessionID: sessionID,
		Question:  question,
		Response:  response,
	}
	if err := m.turns.InsertTurn(ctx, turn); err != nil {
		return fmt.Errorf("%w: failed to record turn for session %s: %w", ErrStore, sessionID, err)
	}
	return nil
}
