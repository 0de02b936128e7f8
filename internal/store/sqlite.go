package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer at a time. A single connection makes concurrent
	// writers queue in the pool instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS clause_metadata (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        clause_type TEXT NOT NULL,
        source TEXT NOT NULL,
        row_number INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS follow_up_questions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        question TEXT NOT NULL,
        response TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_follow_up_questions_session
        ON follow_up_questions (session_id, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Turn methods

func (s *SQLiteStore) InsertTurn(ctx context.Context, turn *Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO follow_up_questions (session_id, question, response, created_at) VALUES (?, ?, ?, ?)",
		turn.SessionID, turn.Question, turn.Response, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert follow-up question: %w", err)
	}
	turn.ID, _ = res.LastInsertId()
	return nil
}

// ListTurns returns a session's turns oldest first. When limit > 0 only the most recent
// limit turns are returned, still oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	query := `
        SELECT id, session_id, question, response, created_at
        FROM follow_up_questions
        WHERE session_id = ?
        ORDER BY created_at ASC, id ASC
    `
	args := []any{sessionID}
	if limit > 0 {
		// Newest first so LIMIT keeps the tail; reversed below.
		query = `
        SELECT id, session_id, question, response, created_at
        FROM follow_up_questions
        WHERE session_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow-up questions: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Question, &turn.Response, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan follow-up question row: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follow-up questions: %w", err)
	}
	if limit > 0 {
		slices.Reverse(turns)
	}
	return turns, nil
}

func (s *SQLiteStore) countTurns(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM follow_up_questions WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count follow-up questions: %w", err)
	}
	return n, nil
}

// Clause metadata methods

func (s *SQLiteStore) InsertClauseMetadata(ctx context.Context, clauses []Clause) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertClauseMetadata(ctx, tx, clauses)
	})
}

// ReplaceClauseMetadata clears the table and inserts clauses in one transaction.
func (s *SQLiteStore) ReplaceClauseMetadata(ctx context.Context, clauses []Clause) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM clause_metadata"); err != nil {
			return fmt.Errorf("failed to clear clause_metadata: %w", err)
		}
		log.Println("Old data cleared from clause_metadata table.")
		return insertClauseMetadata(ctx, tx, clauses)
	})
}

func (s *SQLiteStore) listClauseMetadata(ctx context.Context) ([]ClauseMetadata, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, clause_type, source, row_number FROM clause_metadata ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query clause_metadata: %w", err)
	}
	defer rows.Close()

	var out []ClauseMetadata
	for rows.Next() {
		var m ClauseMetadata
		if err := rows.Scan(&m.ID, &m.ClauseType, &m.Source, &m.RowNumber); err != nil {
			return nil, fmt.Errorf("failed to scan clause_metadata row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func insertClauseMetadata(ctx context.Context, tx *sql.Tx, clauses []Clause) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO clause_metadata (clause_type, source, row_number) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare clause_metadata insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range clauses {
		if _, err := stmt.ExecContext(ctx, c.ClauseType, c.Source, c.RowIndex); err != nil {
			return fmt.Errorf("failed to execute clause_metadata insert: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
