package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	GoogleAPIKey   string `yaml:"-"`
	DatabaseURL    string `yaml:"database_url"`
	IndexDir       string `yaml:"index_dir"`
	HTTPPort       string `yaml:"http_port"`
	LogLevel       string `yaml:"log_level"`
	ChatModel      string `yaml:"chat_model"`
	EmbeddingModel string `yaml:"embedding_model"`

	// Retrieval
	RetrievalK      int     `yaml:"retrieval_k"`
	RetrievalFetchK int     `yaml:"retrieval_fetch_k"`
	MMRLambda       float64 `yaml:"mmr_lambda"`

	// MaxHistoryTurns caps how many prior turns are prepended to a query. 0 means no cap.
	MaxHistoryTurns    int     `yaml:"max_history_turns"`
	ProviderMaxRetries int     `yaml:"provider_max_retries"`
	EmbedRatePerSec    float64 `yaml:"embed_rate_per_sec"`
	MaxUploadMB        int     `yaml:"max_upload_mb"`
}

func Default() Config {
	return Config{
		DatabaseURL:        "clausex.db",
		IndexDir:           "clause_index",
		HTTPPort:           "8080",
		LogLevel:           "INFO",
		ChatModel:          "gemini-2.0-flash",
		EmbeddingModel:     "text-embedding-004",
		RetrievalK:         15,
		RetrievalFetchK:    50,
		MMRLambda:          0.5,
		MaxHistoryTurns:    20,
		ProviderMaxRetries: 2,
		EmbedRatePerSec:    25, // 1500 requests/min embedding quota
		MaxUploadMB:        32,
	}
}

// LoadConfig resolves configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and finally environment variables (including a .env file if present).
func LoadConfig() (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.GoogleAPIKey = getEnv("GOOGLE_API_KEY", getEnv("GEMINI_API_KEY", ""))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.IndexDir = getEnv("INDEX_DIR", cfg.IndexDir)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ChatModel = getEnv("CHAT_MODEL", cfg.ChatModel)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.RetrievalK = getEnvAsInt("RETRIEVAL_K", cfg.RetrievalK)
	cfg.RetrievalFetchK = getEnvAsInt("RETRIEVAL_FETCH_K", cfg.RetrievalFetchK)
	cfg.MMRLambda = getEnvAsFloat("MMR_LAMBDA", cfg.MMRLambda)
	cfg.MaxHistoryTurns = getEnvAsInt("MAX_HISTORY_TURNS", cfg.MaxHistoryTurns)
	cfg.ProviderMaxRetries = getEnvAsInt("PROVIDER_MAX_RETRIES", cfg.ProviderMaxRetries)
	cfg.EmbedRatePerSec = getEnvAsFloat("EMBED_RATE_PER_SEC", cfg.EmbedRatePerSec)
	cfg.MaxUploadMB = getEnvAsInt("MAX_UPLOAD_MB", cfg.MaxUploadMB)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.GoogleAPIKey == "" {
		return errors.New("GOOGLE_API_KEY environment variable is required")
	}
	if c.RetrievalK <= 0 {
		return fmt.Errorf("retrieval k must be positive, got %d", c.RetrievalK)
	}
	if c.RetrievalFetchK < c.RetrievalK {
		return fmt.Errorf("retrieval fetch_k (%d) must be >= k (%d)", c.RetrievalFetchK, c.RetrievalK)
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("mmr lambda must be within [0, 1], got %v", c.MMRLambda)
	}
	if c.MaxHistoryTurns < 0 {
		return fmt.Errorf("max history turns cannot be negative, got %d", c.MaxHistoryTurns)
	}
	if c.ProviderMaxRetries < 0 {
		return fmt.Errorf("provider max retries cannot be negative, got %d", c.ProviderMaxRetries)
	}
	if c.EmbedRatePerSec <= 0 {
		return fmt.Errorf("embed rate must be positive, got %v", c.EmbedRatePerSec)
	}
	return nil
}

func (c *Config) Debug() bool {
	return c.LogLevel == "DEBUG"
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
