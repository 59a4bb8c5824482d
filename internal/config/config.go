// Package config loads service configuration from the environment. Only the
// sandbox provider credentials and at least one model API key are required;
// everything else has a sensible default or degrades gracefully when absent.
package config

import (
	"fmt"
	"os"
)

// Config holds everything the server needs at startup.
type Config struct {
	// Addr is the listen address for the HTTP API.
	Addr string

	// DBPath is the SQLite database file.
	DBPath string

	// RedisAddr enables the Redis-backed stream replay store when set.
	// Empty means replay is served from process memory only.
	RedisAddr string

	// SandboxAPIURL and SandboxToken authenticate against the sandbox
	// provider.
	SandboxAPIURL string
	SandboxToken  string

	// AuthPlatformURL and AuthPlatformToken point at the
	// application-provisioning API. The token is optional: without it the
	// create-auth-app tool reports a configuration error the model can relay
	// to the user.
	AuthPlatformURL   string
	AuthPlatformToken string

	// DBPlatformURL and the service token pair point at the database
	// provisioning API. Both token halves are optional; without them the
	// create-database tool reports a configuration error the model can relay
	// to the user.
	DBPlatformURL     string
	DBPlatformTokenID string
	DBPlatformToken   string

	// Model backend credentials. At least one must be set.
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// Load reads configuration from the environment and validates the required
// values.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:              getenv("CLARK_ADDR", ":8080"),
		DBPath:            getenv("CLARK_DB_PATH", "clark.db"),
		RedisAddr:         os.Getenv("CLARK_REDIS_ADDR"),
		SandboxAPIURL:     os.Getenv("SANDBOX_API_URL"),
		SandboxToken:      os.Getenv("SANDBOX_API_TOKEN"),
		AuthPlatformURL:   getenv("AUTH_PLATFORM_URL", "https://api.clerk.com/v1"),
		AuthPlatformToken: os.Getenv("AUTH_PLATFORM_TOKEN"),
		DBPlatformURL:     getenv("DB_PLATFORM_URL", "https://api.planetscale.com/v1"),
		DBPlatformTokenID: os.Getenv("DB_PLATFORM_TOKEN_ID"),
		DBPlatformToken:   os.Getenv("DB_PLATFORM_TOKEN"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.SandboxAPIURL == "" {
		return nil, fmt.Errorf("SANDBOX_API_URL must be set")
	}
	if cfg.SandboxToken == "" {
		return nil, fmt.Errorf("SANDBOX_API_TOKEN must be set")
	}
	if cfg.AnthropicAPIKey == "" && cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY must be set")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
