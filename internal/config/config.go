package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config holds process-wide settings
type Config struct {
	Backend string
	APIKey  string
	BaseURL string
	Model   string

	OllamaURL   string
	OllamaModel string

	WorkDir        string
	HistoryBackend string
	SQLitePath     string
	PostgresURL    string

	EmbeddingModel string
	EmbeddingDim   int

	Frames   int
	Addr     string
	LogLevel slog.Level
}

// HistoryPath is the JSON history file inside the working directory
func (c *Config) HistoryPath() string {
	return filepath.Join(c.WorkDir, "history.json")
}

// Load reads a .env file when one exists, then the environment
func Load() (*Config, error) {
	envErr := godotenv.Load()

	cfg := &Config{
		Backend:        strings.ToLower(getEnvOrDefault("MEDAI_BACKEND", BackendOpenAI)),
		APIKey:         firstEnv("GEMINI_API_KEY", "MEDAI_API_KEY"),
		BaseURL:        getEnvOrDefault("MEDAI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		Model:          getEnvOrDefault("MEDAI_MODEL", "gemini-2.0-flash"),
		OllamaURL:      getEnvOrDefault("MEDAI_OLLAMA_URL", "http://localhost"),
		OllamaModel:    getEnvOrDefault("MEDAI_OLLAMA_MODEL", "llama3.2-vision:11b"),
		WorkDir:        getEnvOrDefault("MEDAI_WORKDIR", filepath.FromSlash("assets/temp")),
		HistoryBackend: strings.ToLower(getEnvOrDefault("MEDAI_HISTORY_BACKEND", "json")),
		PostgresURL:    os.Getenv("MEDAI_POSTGRES_URL"),
		EmbeddingModel: os.Getenv("MEDAI_EMBEDDING_MODEL"),
		Addr:           getEnvOrDefault("MEDAI_ADDR", ":8080"),
	}
	cfg.SQLitePath = getEnvOrDefault("MEDAI_SQLITE_PATH", filepath.Join(cfg.WorkDir, "history.db"))

	var errs []string
	var err error
	if cfg.Frames, err = intFromEnv("MEDAI_FRAMES", 3); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.EmbeddingDim, err = intFromEnv("MEDAI_EMBEDDING_DIM", 768); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.LogLevel, err = ParseLevel(getEnvOrDefault("MEDAI_LOG_LEVEL", "info")); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration invalid: %s", strings.Join(errs, "; "))
	}

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", envErr)
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once
func (c *Config) Validate() error {
	return joinProblems(append(c.backendProblems(), c.historyProblems()...))
}

// ValidateHistory checks only what reading and writing history needs, so
// history can be managed without model credentials
func (c *Config) ValidateHistory() error {
	return joinProblems(c.historyProblems())
}

func (c *Config) backendProblems() []string {
	var errs []string
	switch c.Backend {
	case BackendOpenAI:
		if strings.TrimSpace(c.APIKey) == "" {
			errs = append(errs, "GEMINI_API_KEY is missing in your environment variables")
		}
		if strings.TrimSpace(c.Model) == "" {
			errs = append(errs, "model is required")
		}
	case BackendOllama:
		if strings.TrimSpace(c.OllamaModel) == "" {
			errs = append(errs, "ollama model is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown backend %q", c.Backend))
	}
	if c.Frames < 1 {
		errs = append(errs, "frames must be >= 1")
	}
	return errs
}

func (c *Config) historyProblems() []string {
	var errs []string
	switch c.HistoryBackend {
	case "json", "sqlite":
	case "postgres":
		if c.PostgresURL == "" {
			errs = append(errs, "MEDAI_POSTGRES_URL is required for the postgres history backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown history backend %q", c.HistoryBackend))
	}

	if c.EmbeddingModel != "" && c.Backend != BackendOpenAI {
		errs = append(errs, "embeddings need the openai backend")
	}
	if c.EmbeddingModel != "" && c.EmbeddingDim <= 0 {
		errs = append(errs, "embedding dimension must be > 0")
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		errs = append(errs, "working directory is required")
	}
	return errs
}

func joinProblems(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseLevel maps debug, info, warn and error onto slog levels
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("bad log level %q", s)
	}
	return l, nil
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return n, nil
}
