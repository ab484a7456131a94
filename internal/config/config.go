package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database DatabaseConfig
	Corpus   CorpusConfig
	Web      WebConfig
	Defaults DefaultsConfig
}

type DatabaseConfig struct {
	URL      string // PostgreSQL connection URL
	MaxConns int    // Maximum pool connections (default 25)
}

type CorpusConfig struct {
	DatabaseDSN string // MySQL DSN for the host application's database (e.g., app:app@tcp(mysql:3306)/app)
}

type WebConfig struct {
	APIToken       string // Static bearer token for the HTTP API; empty disables auth
	AllowedOrigins string // Comma-separated CORS origin whitelist
}

// DefaultsConfig holds baked-in defaults shipped with the binary.
type DefaultsConfig struct {
	Providers map[string]ProviderDefaults `yaml:"providers"`
	Batch     BatchDefaults               `yaml:"batch"`
}

// ProviderDefaults are the starting threshold and result cap applied when a
// provider config is created without explicit values.
type ProviderDefaults struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxResults          int     `yaml:"max_results"`
}

// BatchDefaults control the corpus regeneration rate limiter. The size and
// delay are deliberately configuration, not per-run options: external vendors
// throttle on sustained request rate.
type BatchDefaults struct {
	Size         int `yaml:"size"`
	DelaySeconds int `yaml:"delay_seconds"`
}

// Delay returns the inter-batch delay as a duration.
func (b BatchDefaults) Delay() time.Duration {
	return time.Duration(b.DelaySeconds) * time.Second
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func Load() *Config {
	var defaults DefaultsConfig
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// Embedded file, so this can only happen if the build is broken.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: envInt("DATABASE_MAX_CONNS", 25),
		},
		Corpus: CorpusConfig{
			DatabaseDSN: os.Getenv("CORPUS_DATABASE_DSN"),
		},
		Web: WebConfig{
			APIToken:       os.Getenv("WEB_API_TOKEN"),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Defaults: defaults,
	}
}

// ProviderDefault returns the shipped defaults for a provider type, falling
// back to a conservative threshold when the type is unknown.
func (c *Config) ProviderDefault(providerType string) ProviderDefaults {
	if d, ok := c.Defaults.Providers[providerType]; ok {
		return d
	}
	return ProviderDefaults{SimilarityThreshold: 0.8, MaxResults: 10}
}
