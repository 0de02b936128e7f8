// Package index is the persisted vector index over clause embeddings.
//
// Clauses and their embeddings live in a SQLite database inside the index directory.
// Every write reloads the table, embeds the new clauses and commits them in one
// transaction. Writers are serialised; readers work on an immutable in-memory snapshot
// and never block on embedding calls.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/time/rate"

	"clausex.com/clause-qa/internal/store"
)

const indexFileName = "index.db"

var ErrUnavailable = errors.New("clause index unavailable")

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	// EmbedRatePerSec throttles embedding calls made while ingesting.
	EmbedRatePerSec float64
	// MMRLambda trades relevance (1) against diversity (0).
	MMRLambda float64
}

type entry struct {
	Clause    store.Clause `json:"clause"`
	Embedding []float32    `json:"embedding"`
}

type snapshot struct {
	Dimension int     `json:"dimension"`
	Entries   []entry `json:"entries"`
}

type Store struct {
	dir      string
	db       *sql.DB // nil while the database file cannot be opened
	embedder Embedder
	limiter  *rate.Limiter
	lambda   float64

	writeMu sync.Mutex // held for a whole load-modify-save cycle

	mu      sync.RWMutex
	current snapshot
	loadErr error
}

// Open loads the index in dir, creating it if needed. An unreadable or corrupt index is
// kept unavailable for search until a successful Rebuild.
func Open(dir string, embedder Embedder, opts Options) *Store {
	if opts.EmbedRatePerSec <= 0 {
		opts.EmbedRatePerSec = 25
	}
	s := &Store{
		dir:      dir,
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Limit(opts.EmbedRatePerSec), 1),
		lambda:   opts.MMRLambda,
	}

	db, err := openDB(dir)
	if err != nil {
		log.Printf("Clause index at %s could not be opened: %v", dir, err)
		s.loadErr = err
		return s
	}
	s.db = db

	snap, err := s.load(context.Background())
	if err != nil {
		log.Printf("Clause index at %s could not be loaded: %v", dir, err)
		s.loadErr = err
		return s
	}
	s.current = snap
	log.Printf("Clause index loaded from %s with %d clauses.", dir, len(snap.Entries))
	return s
}

func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Err reports why the index is unavailable, or nil.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current.Entries)
}

// Search embeds query, takes the fetchK nearest clauses and returns up to k of them
// reranked by maximal marginal relevance.
func (s *Store) Search(ctx context.Context, query string, k, fetchK int) ([]store.Clause, error) {
	s.mu.RLock()
	snap, loadErr := s.current, s.loadErr
	s.mu.RUnlock()

	if loadErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, loadErr)
	}
	if len(snap.Entries) == 0 || k <= 0 {
		return nil, nil
	}
	if fetchK < k {
		fetchK = k
	}

	queryVec, err := s.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(queryVec) != snap.Dimension {
		return nil, fmt.Errorf("%w: query embedding has dimension %d, index has %d", ErrUnavailable, len(queryVec), snap.Dimension)
	}

	vectors := make([][]float32, len(snap.Entries))
	for i, e := range snap.Entries {
		vectors[i] = e.Embedding
	}
	top, err := nearest(queryVec, vectors, fetchK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	candidates := make([][]float32, len(top))
	for i, t := range top {
		candidates[i] = vectors[t.idx]
	}
	order, err := maxMarginalRelevance(queryVec, candidates, k, s.lambda)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]store.Clause, 0, len(order))
	for _, pos := range order {
		out = append(out, snap.Entries[top[pos].idx].Clause)
	}
	return out, nil
}

// AddClauses appends clauses to the persisted index: reload the table, embed, commit.
func (s *Store) AddClauses(ctx context.Context, clauses []store.Clause) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.db == nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, s.Err())
	}
	base, err := s.load(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Printf("Clause index found. Loading and appending %d new clauses...", len(clauses))

	added, err := s.embed(ctx, base.Dimension, clauses)
	if err != nil {
		return 0, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEntries(ctx, tx, added)
	})
	if err != nil {
		return 0, err
	}

	next := snapshot{Dimension: base.Dimension, Entries: append(base.Entries, added...)}
	if next.Dimension == 0 && len(added) > 0 {
		next.Dimension = len(added[0].Embedding)
	}
	s.publish(next)
	return len(added), nil
}

// Rebuild replaces the whole index with clauses. An index that could not be opened is
// recreated from scratch.
func (s *Store) Rebuild(ctx context.Context, clauses []store.Clause) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	log.Printf("Rebuilding clause index at %s from %d clauses...", s.dir, len(clauses))
	entries, err := s.embed(ctx, 0, clauses)
	if err != nil {
		return 0, err
	}

	if s.db == nil {
		db, err := recreateDB(s.dir)
		if err != nil {
			return 0, err
		}
		s.db = db
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM clauses"); err != nil {
			return fmt.Errorf("failed to clear clauses: %w", err)
		}
		return insertEntries(ctx, tx, entries)
	})
	if err != nil {
		return 0, err
	}

	next := snapshot{Entries: entries}
	if len(entries) > 0 {
		next.Dimension = len(entries[0].Embedding)
	}
	s.publish(next)
	return len(entries), nil
}

// embed vectorises clauses under the rate limit. dim is the index dimension, 0 if unset.
func (s *Store) embed(ctx context.Context, dim int, clauses []store.Clause) ([]entry, error) {
	out := make([]entry, 0, len(clauses))
	for i, clause := range clauses {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vec, err := s.embedder.GetEmbedding(ctx, clause.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed clause %d of %d: %w", i+1, len(clauses), err)
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("embedding for clause %d has dimension %d, index has %d", i+1, len(vec), dim)
		}
		out = append(out, entry{Clause: clause, Embedding: vec})
		if (i+1)%100 == 0 {
			log.Printf("Embedded %d/%d clauses...", i+1, len(clauses))
		}
	}
	return out, nil
}

func (s *Store) publish(next snapshot) {
	s.mu.Lock()
	s.current = next
	s.loadErr = nil
	s.mu.Unlock()
	log.Printf("Clause index saved to %s (%d clauses total).", s.dir, len(next.Entries))
}

func (s *Store) load(ctx context.Context) (snapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT text, clause_type, source, row_number, embedding_json FROM clauses ORDER BY id ASC")
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to query clauses: %w", err)
	}
	defer rows.Close()

	var snap snapshot
	for rows.Next() {
		var (
			e             entry
			embeddingJSON string
		)
		if err := rows.Scan(&e.Clause.Text, &e.Clause.ClauseType, &e.Clause.Source, &e.Clause.RowIndex, &embeddingJSON); err != nil {
			return snapshot{}, fmt.Errorf("failed to scan clause row: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &e.Embedding); err != nil {
			return snapshot{}, fmt.Errorf("failed to decode embedding of clause %d: %w", len(snap.Entries)+1, err)
		}
		if snap.Dimension == 0 {
			snap.Dimension = len(e.Embedding)
		}
		if len(e.Embedding) != snap.Dimension || snap.Dimension == 0 {
			return snapshot{}, fmt.Errorf("clause %d has dimension %d, expected %d", len(snap.Entries)+1, len(e.Embedding), snap.Dimension)
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return snapshot{}, fmt.Errorf("failed to read clauses: %w", err)
	}
	return snap, nil
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []entry) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO clauses (text, clause_type, source, row_number, embedding_json) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare clause insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		embeddingBytes, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.Clause.Text, e.Clause.ClauseType, e.Clause.Source, e.Clause.RowIndex, string(embeddingBytes)); err != nil {
			return fmt.Errorf("failed to execute clause insert: %w", err)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
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

func openDB(dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, indexFileName)+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS clauses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		clause_type TEXT NOT NULL,
		source TEXT NOT NULL,
		row_number INTEGER NOT NULL,
		embedding_json TEXT NOT NULL
	);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return db, nil
}

// recreateDB discards an unreadable database file and starts an empty one.
func recreateDB(dir string) (*sql.DB, error) {
	path := filepath.Join(dir, indexFileName)
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return openDB(dir)
}
