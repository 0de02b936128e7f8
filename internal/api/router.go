package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // /upload_csv/ and /upload_csv route the same

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "hi there"})
	})
	r.Get("/health", apiHandler.HealthHandler)

	r.Post("/predict", apiHandler.PredictHandler)
	r.Post("/oldchat/{sessionID}", apiHandler.OldChatHandler)
	r.Post("/upload_csv", apiHandler.UploadCSVHandler)

	return r
}
