package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "threadnote/backend/pkg/errors"

	"github.com/joho/godotenv"
)

// Graph backends
const (
	GraphBackendNeo4j  = "neo4j"
	GraphBackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Graph store
	GraphBackend  string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// AI
	LLMBaseURL        string
	LLMAPIKey         string
	ModelID           string
	ExtractionModelID string // Falls back to ModelID when empty
	SearchModelID     string // Model that answers with live web results
	WebSearchEnabled  bool

	// Auth
	JWTSecret string
	JWTExpiry time.Duration

	// Web sources
	FetchTimeout      time.Duration
	FetchMaxBytes     int64
	MaxSourceURLs     int
	FetchAllowPrivate bool // Honored in development only
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		GraphBackend:      strings.ToLower(getEnv("GRAPH_BACKEND", GraphBackendNeo4j)),
		Neo4jURI:          getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:         getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:     getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase:     getEnv("NEO4J_DATABASE", ""),
		LLMBaseURL:        getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		ModelID:           getEnv("MODEL_ID", "gpt-4o-mini"),
		ExtractionModelID: getEnv("EXTRACTION_MODEL_ID", ""),
		SearchModelID:     getEnv("SEARCH_MODEL_ID", "gpt-4o-mini-search-preview"),
		WebSearchEnabled:  getEnvBool("WEB_SEARCH_ENABLED", true),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		FetchTimeout:      getEnvDuration("FETCH_TIMEOUT", 5*time.Second),
		FetchMaxBytes:     int64(getEnvInt("FETCH_MAX_BYTES", 2<<20)),
		MaxSourceURLs:     getEnvInt("MAX_SOURCE_URLS", 3),
		FetchAllowPrivate: getEnvBool("FETCH_ALLOW_PRIVATE", false),
	}

	if cfg.ExtractionModelID == "" {
		cfg.ExtractionModelID = cfg.ModelID
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.GraphBackend {
	case GraphBackendNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	case GraphBackendMemory:
	default:
		return fmt.Errorf("GRAPH_BACKEND must be %q or %q, got %q", GraphBackendNeo4j, GraphBackendMemory, c.GraphBackend)
	}
	if c.LLMBaseURL == "" {
		return apperrors.NewConfigMissingRequired("LLM_BASE_URL")
	}
	if c.ModelID == "" {
		return apperrors.NewConfigMissingRequired("MODEL_ID")
	}
	if c.WebSearchEnabled && c.SearchModelID == "" {
		return fmt.Errorf("SEARCH_MODEL_ID is required when WEB_SEARCH_ENABLED is set")
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	// The API key may also arrive per request, so it is optional here
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// AllowPrivateFetches reports whether source fetches may reach loopback and
// private networks
func (c *Config) AllowPrivateFetches() bool {
	return c.FetchAllowPrivate && c.IsDevelopment()
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
