package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the ensemble service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL        string
	MemoryEmbeddingDim int

	EmbedderMode    string
	EmbedderBaseURL string
	EmbedderModel   string

	ResponderMode    string
	ResponderBaseURL string
	ResponderAPIKey  string
	ResponderModel   string

	PersonasFile string

	MemoryRetentionDays int
	MemoryPerTypeCap    int
	MemoryRecencyFloor  time.Duration
	MemorySearchK       int

	GroupResponseThreshold     float64
	GroupAgreementThreshold    float64
	GroupInterruptionThreshold float64
	GroupAgreementCap          int
	GroupInterruptionCap       int
	GroupContextTurns          int
	GroupSessionTTL            time.Duration
	GroupJanitorInterval       time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "ensemble"),
		AllowAnyOrigin:   false,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		// Matches the default all-MiniLM embedding width served by Ollama-style endpoints.
		MemoryEmbeddingDim: 384,
		EmbedderMode:       envOrDefault("EMBEDDER_MODE", "auto"),
		EmbedderBaseURL:    stringsTrimSpace("EMBEDDER_BASE_URL"),
		EmbedderModel:      envOrDefault("EMBEDDER_MODEL", "all-minilm"),
		ResponderMode:      envOrDefault("RESPONDER_MODE", "auto"),
		ResponderBaseURL:   stringsTrimSpace("RESPONDER_BASE_URL"),
		ResponderAPIKey:    stringsTrimSpace("RESPONDER_API_KEY"),
		ResponderModel:     stringsTrimSpace("RESPONDER_MODEL"),
		PersonasFile:       stringsTrimSpace("PERSONAS_FILE"),

		ShutdownTimeout: 15 * time.Second,

		MemoryRetentionDays: 90,
		MemoryPerTypeCap:    100,
		MemoryRecencyFloor:  24 * time.Hour,
		MemorySearchK:       50,

		GroupResponseThreshold:     0.3,
		GroupAgreementThreshold:    0.7,
		GroupInterruptionThreshold: 0.6,
		GroupAgreementCap:          3,
		GroupInterruptionCap:       2,
		GroupContextTurns:          10,
		GroupSessionTTL:            0,
		GroupJanitorInterval:       time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryEmbeddingDim, err = intFromEnv("MEMORY_EMBEDDING_DIM", cfg.MemoryEmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRetentionDays, err = intFromEnv("MEMORY_RETENTION_DAYS", cfg.MemoryRetentionDays)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryPerTypeCap, err = intFromEnv("MEMORY_PER_TYPE_CAP", cfg.MemoryPerTypeCap)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRecencyFloor, err = durationFromEnv("MEMORY_RECENCY_FLOOR", cfg.MemoryRecencyFloor)
	if err != nil {
		return Config{}, err
	}
	cfg.MemorySearchK, err = intFromEnv("MEMORY_SEARCH_K", cfg.MemorySearchK)
	if err != nil {
		return Config{}, err
	}
	cfg.GroupResponseThreshold, err = floatFromEnv("GROUP_RESPONSE_THRESHOLD", cfg.GroupResponseThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.GroupAgreementThreshold, err = floatFromEnv("GROUP_AGREEMENT_THRESHOLD", cfg.GroupAgreementThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.GroupInterruptionThreshold, err = floatFromEnv("GROUP_INTERRUPTION_THRESHOLD", cfg.GroupInterruptionThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.GroupAgreementCap, err = intFromEnv("GROUP_AGREEMENT_CAP", cfg.GroupAgreementCap)
	if err != nil {
		return Config{}, err
	}
	cfg.GroupInterruptionCap, err = intFromEnv("GROUP_INTERRUPTION_CAP", cfg.GroupInterruptionCap)
	if err != nil {
		return Config{}, err
	}
	cfg.GroupContextTurns, err = intFromEnv("GROUP_CONTEXT_TURNS", cfg.GroupContextTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.GroupSessionTTL, err = durationFromEnv("GROUP_SESSION_TTL", cfg.GroupSessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.GroupJanitorInterval, err = durationFromEnv("GROUP_JANITOR_INTERVAL", cfg.GroupJanitorInterval)
	if err != nil {
		return Config{}, err
	}

	if cfg.MemoryEmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if cfg.MemoryRetentionDays <= 0 {
		return Config{}, fmt.Errorf("MEMORY_RETENTION_DAYS must be positive")
	}
	if cfg.MemoryPerTypeCap <= 0 {
		return Config{}, fmt.Errorf("MEMORY_PER_TYPE_CAP must be positive")
	}
	if cfg.GroupResponseThreshold <= 0 || cfg.GroupResponseThreshold > 1 {
		return Config{}, fmt.Errorf("GROUP_RESPONSE_THRESHOLD must be in (0,1]")
	}
	if cfg.GroupAgreementThreshold <= 0 || cfg.GroupAgreementThreshold > 1 {
		return Config{}, fmt.Errorf("GROUP_AGREEMENT_THRESHOLD must be in (0,1]")
	}
	if cfg.GroupInterruptionThreshold <= 0 || cfg.GroupInterruptionThreshold > 1 {
		return Config{}, fmt.Errorf("GROUP_INTERRUPTION_THRESHOLD must be in (0,1]")
	}
	if cfg.GroupAgreementCap <= 0 {
		return Config{}, fmt.Errorf("GROUP_AGREEMENT_CAP must be positive")
	}
	if cfg.GroupInterruptionCap <= 0 {
		return Config{}, fmt.Errorf("GROUP_INTERRUPTION_CAP must be positive")
	}
	if cfg.GroupContextTurns <= 0 {
		return Config{}, fmt.Errorf("GROUP_CONTEXT_TURNS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
