package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"clausex.com/clause-qa/internal/core"
)

// Asker answers a question within a session.
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) (string, error)
}

// Uploader ingests an uploaded clause file.
type Uploader interface {
	IngestUpload(ctx context.Context, filename string, r io.Reader) (*core.IngestResult, error)
}

// IndexStatus reports the clause index state for health checks.
type IndexStatus interface {
	Err() error
	Len() int
}

type APIHandler struct {
	chat     Asker
	uploads  Uploader
	index    IndexStatus
	maxBytes int64

	// defaultSessionID is shared by every /predict call for the life of the process.
	defaultSessionID string
}

func NewAPIHandler(chat Asker, uploads Uploader, index IndexStatus, defaultSessionID string, maxUploadBytes int64) *APIHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &APIHandler{
		chat:             chat,
		uploads:          uploads,
		index:            index,
		maxBytes:         maxUploadBytes,
		defaultSessionID: defaultSessionID,
	}
}

type QueryRequest struct {
	Text string `json:"text"`
}

type PredictResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type OldChatResponse struct {
	Response          string `json:"response"`
	PreviousSessionID string `json:"previous session_id"`
}

type UploadResponse struct {
	Message          string `json:"message"`
	Filename         string `json:"filename"`
	Rows             int    `json:"rows"`
	InsertedMetadata int    `json:"inserted_metadata"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Clauses int    `json:"clauses"`
	Error   string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.index.Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Clauses: h.index.Len()})
}

func (h *APIHandler) PredictHandler(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	answer, err := h.chat.Ask(r.Context(), h.defaultSessionID, text)
	if err != nil {
		log.Printf("Error answering query for session %s: %v", h.defaultSessionID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PredictResponse{Response: answer, SessionID: h.defaultSessionID})
}

func (h *APIHandler) OldChatHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	text, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	answer, err := h.chat.Ask(r.Context(), sessionID, text)
	if err != nil {
		log.Printf("Error answering query for session %s: %v", sessionID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OldChatResponse{Response: answer, PreviousSessionID: sessionID})
}

func (h *APIHandler) UploadCSVHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: fmt.Sprintf("Upload exceeds the limit of %d bytes.", tooLarge.Limit)})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "A CSV file must be uploaded in the 'file' field."})
		return
	}
	defer file.Close()

	// Checked here too so a wrong extension never reaches ingestion.
	if err := core.ValidateUploadName(header.Filename); err != nil {
		writeError(w, err)
		return
	}

	// Every row is embedded before the response, which can outlast the server's
	// WriteTimeout on large files.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("Could not lift write deadline for upload %s: %v", header.Filename, err)
	}

	result, err := h.uploads.IngestUpload(r.Context(), header.Filename, file)
	if err != nil {
		log.Printf("Error ingesting %s: %v", header.Filename, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Message:          "CSV processed successfully (in background)",
		Filename:         result.Filename,
		Rows:             result.Rows,
		InsertedMetadata: result.Ingested,
	})
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return "", false
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Query text cannot be empty"})
		return "", false
	}
	return req.Text, true
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Message})
	case errors.Is(err, core.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrIndexUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Clause index is unavailable"})
	case errors.Is(err, core.ErrProvider):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Language model provider request failed"})
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is reading the response.
		w.WriteHeader(499)
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
