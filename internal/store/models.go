package store

import "time"

// Clause is a single contract provision with its type label and provenance.
type Clause struct {
	Text       string `json:"text"`
	ClauseType string `json:"clause_type"`
	Source     string `json:"source"`
	RowIndex   int    `json:"row_index"`
}

// Turn is one answered question within a session.
type Turn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

type ClauseMetadata struct {
	ID         int64  `json:"id"`
	ClauseType string `json:"clause_type"`
	Source     string `json:"source"`
	RowNumber  int    `json:"row_number"`
}
