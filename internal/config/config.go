// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LLMConfig holds settings for the external language model endpoint.
type LLMConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// VectorConfig holds settings for the remote vector store.
type VectorConfig struct {
	Endpoint   string
	APIKey     string
	Collection string
}

// GraphConfig holds settings for the remote graph store.
type GraphConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

// OrchestratorConfig holds pipeline-level settings.
type OrchestratorConfig struct {
	RequestTimeout time.Duration
	TopK           int
	MaxRows        int
}

// Config holds all application configuration
type Config struct {
	Environment string
	LogLevel    string

	LLM          LLMConfig
	Vector       VectorConfig
	Graph        GraphConfig
	Orchestrator OrchestratorConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		LLM: LLMConfig{
			Endpoint:    getEnv("LLM_ENDPOINT", ""),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1000),
			Timeout:     time.Duration(getEnvInt("LLM_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
		Vector: VectorConfig{
			Endpoint:   getEnv("VECTOR_ENDPOINT", ""),
			APIKey:     getEnv("VECTOR_API_KEY", ""),
			Collection: getEnv("VECTOR_COLLECTION", "dbvybe_schemas"),
		},
		Graph: GraphConfig{
			URI:      getEnv("GRAPH_URI", ""),
			User:     getEnv("GRAPH_USER", "neo4j"),
			Password: getEnv("GRAPH_PASSWORD", ""),
			Database: getEnv("GRAPH_DATABASE", "neo4j"),
		},
		Orchestrator: OrchestratorConfig{
			RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 45000)) * time.Millisecond,
			TopK:           getEnvInt("TOP_K", 8),
			MaxRows:        getEnvInt("MAX_ROWS", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2, got %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.Orchestrator.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_MS must be positive")
	}
	if c.Orchestrator.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.Orchestrator.TopK)
	}
	if c.Orchestrator.MaxRows < 0 {
		return fmt.Errorf("MAX_ROWS must not be negative, got %d", c.Orchestrator.MaxRows)
	}
	return nil
}

// IsDevelopment returns true when running in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
