package core

import (
	"context"
	"log"
)

type Answerer interface {
	Answer(ctx context.Context, query string) (string, error)
}

// ChatService answers a question within a session and records the turn.
type ChatService struct {
	sessions *SessionManager
	router   Answerer
}

func NewChatService(sessions *SessionManager, router Answerer) *ChatService {
	return &ChatService{
		sessions: sessions,
		router:   router,
	}
}

// Ask threads the session history into the question and answers it. The turn is written
// at most once after a successful answer: a failed write is logged and the answer is still
// returned, so stored history may lag what the user saw.
func (s *ChatService) Ask(ctx context.Context, sessionID, question string) (string, error) {
	query, err := s.sessions.BuildContext(ctx, sessionID, question)
	if err != nil {
		log.Printf("Error getting chat history for session %s: %v. Proceeding without history.", sessionID, err)
		query = RenderHistory(nil, question)
	}

	answer, err := s.router.Answer(ctx, query)
	if err != nil {
		return "", err
	}

	// The answer is already computed; a client disconnect should not drop the turn.
	if err := s.sessions.RecordTurn(context.WithoutCancel(ctx), sessionID, question, answer); err != nil {
		log.Printf("Failed to store follow-up for session %s: %v", sessionID, err)
	} else {
		log.Printf("Follow-up stored for session %s", sessionID)
	}
	return answer, nil
}
