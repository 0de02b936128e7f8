package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"clausex.com/clause-qa/internal/store"
)

const (
	clauseTextColumn = "clause_text"
	clauseTypeColumn = "clause_type"

	// MaxInitClauses caps a bulk directory build.
	MaxInitClauses = 20000
)

// ClauseIndexer is the write side of the vector index.
type ClauseIndexer interface {
	AddClauses(ctx context.Context, clauses []store.Clause) (int, error)
	Rebuild(ctx context.Context, clauses []store.Clause) (int, error)
}

// MetadataStore is the relational copy of clause provenance.
type MetadataStore interface {
	InsertClauseMetadata(ctx context.Context, clauses []store.Clause) error
	ReplaceClauseMetadata(ctx context.Context, clauses []store.Clause) error
}

type IngestResult struct {
	Filename string
	Rows     int
	Ingested int
}

// IngestService loads clause CSVs into the index and the metadata table.
type IngestService struct {
	index    ClauseIndexer
	metadata MetadataStore

	background sync.WaitGroup
}

func NewIngestService(index ClauseIndexer, metadata MetadataStore) *IngestService {
	return &IngestService{index: index, metadata: metadata}
}

func ValidateUploadName(filename string) error {
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return &ValidationError{Message: "Only CSV files are supported."}
	}
	return nil
}

// IngestUpload indexes the clauses of an uploaded CSV synchronously and schedules the
// metadata insert in the background. It returns before the metadata is written.
func (s *IngestService) IngestUpload(ctx context.Context, filename string, r io.Reader) (*IngestResult, error) {
	if err := ValidateUploadName(filename); err != nil {
		return nil, err
	}

	clauses, rows, err := ParseClauses(r, filename)
	if err != nil {
		return nil, err
	}
	log.Printf("Adding new file to clause index: %s", filename)
	log.Printf("Loaded %d valid clauses from %d rows.", len(clauses), rows)

	result := &IngestResult{Filename: filename, Rows: rows}
	if len(clauses) == 0 {
		return result, nil
	}

	n, err := s.index.AddClauses(ctx, clauses)
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", filename, err)
	}
	result.Ingested = n

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		// Detached from the request, which ends before this runs.
		if err := s.metadata.InsertClauseMetadata(context.WithoutCancel(ctx), clauses); err != nil {
			log.Printf("Failed to insert clause metadata for %s: %v", filename, err)
			return
		}
		log.Printf("Metadata for %d clauses from %s inserted.", len(clauses), filename)
	}()

	return result, nil
}

// InitFromDirectory rebuilds the index and the metadata table from every CSV in dir.
func (s *IngestService) InitFromDirectory(ctx context.Context, dir string) (int, error) {
	log.Printf("Processing files from: %s", dir)

	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return 0, &ValidationError{Message: fmt.Sprintf("no .csv files found in %s", dir)}
	}

	var clauses []store.Clause
	for _, path := range files {
		parsed, err := parseClauseFile(path)
		if err != nil {
			return 0, err
		}
		clauses = append(clauses, parsed...)
	}
	log.Printf("Clauses loaded: %d", len(clauses))

	if len(clauses) > MaxInitClauses {
		log.Printf("Keeping the first %d of %d clauses.", MaxInitClauses, len(clauses))
		clauses = clauses[:MaxInitClauses]
	}

	n, err := s.index.Rebuild(ctx, clauses)
	if err != nil {
		return 0, fmt.Errorf("failed to build clause index: %w", err)
	}
	if err := s.metadata.ReplaceClauseMetadata(ctx, clauses); err != nil {
		return n, fmt.Errorf("%w: %w", ErrStore, err)
	}
	log.Println("Data inserted successfully into clause_metadata table.")
	return n, nil
}

// Wait blocks until scheduled metadata writes have finished.
func (s *IngestService) Wait() {
	s.background.Wait()
}

func parseClauseFile(path string) ([]store.Clause, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	clauses, _, err := ParseClauses(f, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return clauses, nil
}

// ParseClauses reads a CSV with clause_text and clause_type columns. Rows missing either
// value are skipped. rows counts every data row; RowIndex is the 0-based data row.
func ParseClauses(r io.Reader, source string) (clauses []store.Clause, rows int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, &ValidationError{Message: "CSV file is empty."}
		}
		return nil, 0, &ValidationError{Message: fmt.Sprintf("Malformed CSV header: %v", err)}
	}

	textCol, typeCol := -1, -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch name {
		case clauseTextColumn:
			textCol = i
		case clauseTypeColumn:
			typeCol = i
		}
	}
	if textCol < 0 || typeCol < 0 {
		return nil, 0, &ValidationError{Message: fmt.Sprintf("CSV must contain %q and %q columns.", clauseTextColumn, clauseTypeColumn)}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rows, &ValidationError{Message: fmt.Sprintf("Malformed CSV at row %d: %v", rows+1, err)}
		}
		idx := rows
		rows++

		text, clauseType := field(record, textCol), field(record, typeCol)
		if text == "" || clauseType == "" {
			continue
		}
		clauses = append(clauses, store.Clause{
			Text:       text,
			ClauseType: clauseType,
			Source:     source,
			RowIndex:   idx,
		})
	}
	return clauses, rows, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
