package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"clausex.com/clause-qa/internal/api"
	"clausex.com/clause-qa/internal/config"
	"clausex.com/clause-qa/internal/core"
	"clausex.com/clause-qa/internal/index"
	"clausex.com/clause-qa/internal/store"
)

func main() {
	// Command line flag for a full index rebuild
	initDir := flag.String("init", "", "Rebuild the clause index from every CSV in `dir` and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if cfg.Debug() {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService, err := core.NewLLMService(context.Background(), cfg.GoogleAPIKey, cfg.ChatModel, cfg.EmbeddingModel)
	if err != nil {
		log.Fatalf("Failed to initialize LLM service: %v", err)
	}
	defer llmService.Close()

	clauseIndex := index.Open(cfg.IndexDir, llmService, index.Options{
		EmbedRatePerSec: cfg.EmbedRatePerSec,
		MMRLambda:       cfg.MMRLambda,
	})
	defer clauseIndex.Close()
	ingestService := core.NewIngestService(clauseIndex, dbStore)

	if *initDir != "" {
		log.Printf("Rebuilding clause index from %s...", *initDir)
		n, err := ingestService.InitFromDirectory(context.Background(), *initDir)
		if err != nil {
			log.Fatalf("Index build failed: %v", err)
		}
		log.Printf("Index build complete. Indexed %d clauses into %s. Exiting.", n, cfg.IndexDir)
		return
	}

	// Answer pipeline
	router := core.NewQueryRouter(
		core.NewIntentClassifier(llmService),
		core.NewRAGService(clauseIndex),
		llmService,
		core.QueryRouterOptions{
			K:          cfg.RetrievalK,
			FetchK:     cfg.RetrievalFetchK,
			MaxRetries: cfg.ProviderMaxRetries,
			Debug:      cfg.Debug(),
		},
	)
	chatService := core.NewChatService(core.NewSessionManager(dbStore, cfg.MaxHistoryTurns), router)

	// /predict shares one session per process run.
	defaultSessionID := uuid.NewString()
	log.Printf("Default session for /predict: %s", defaultSessionID)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, ingestService, clauseIndex, defaultSessionID, int64(cfg.MaxUploadMB)<<20)
	handler := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second, // CSV uploads
		WriteTimeout: 60 * time.Second, // LLM calls can take time; uploads lift their own deadline
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Let background metadata writes land before the database closes.
	ingestService.Wait()
	log.Println("Server exiting gracefully")
}
