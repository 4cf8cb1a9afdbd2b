// Package config loads snipvec deployment configuration from a YAML file
// and SNIPVEC_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete snipvec configuration.
type Config struct {
	Dir      string         `mapstructure:"dir"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Index    IndexConfig    `mapstructure:"index"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Search   SearchConfig   `mapstructure:"search"`
	Log      LogConfig      `mapstructure:"log"`
}

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	// Provider is "openai" or "disabled". A disabled embedder serves
	// reads of an existing store but rejects writes and searches.
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	// Backend is "flat", "qdrant" or "pgvector".
	Backend         string         `mapstructure:"backend"`
	InitialCapacity int            `mapstructure:"initial_capacity"`
	Mmap            bool           `mapstructure:"mmap"`
	Qdrant          QdrantConfig   `mapstructure:"qdrant"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
}

type QdrantConfig struct {
	Addr       string `mapstructure:"addr"`
	Collection string `mapstructure:"collection"`
	WaitWrites bool   `mapstructure:"wait_writes"`
}

type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MirrorConfig selects the snapshot mirror target.
type MirrorConfig struct {
	// Backend is "none", "local", "s3" or "minio".
	Backend   string  `mapstructure:"backend"`
	Path      string  `mapstructure:"path"`
	Bucket    string  `mapstructure:"bucket"`
	Prefix    string  `mapstructure:"prefix"`
	Endpoint  string  `mapstructure:"endpoint"`
	AccessKey string  `mapstructure:"access_key"`
	SecretKey string  `mapstructure:"secret_key"`
	UseSSL    bool    `mapstructure:"use_ssl"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

type SearchConfig struct {
	K         int `mapstructure:"k"`
	Overfetch int `mapstructure:"overfetch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks the configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Embedder.Provider {
	case "openai":
		if c.Embedder.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
			warnings = append(warnings, "embedder provider 'openai' has no api_key and OPENAI_API_KEY is unset")
		}
	case "disabled":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown embedder provider '%s' (want openai or disabled)", c.Embedder.Provider))
	}
	if c.Embedder.Dimension <= 0 {
		warnings = append(warnings, fmt.Sprintf("embedder dimension %d must be positive", c.Embedder.Dimension))
	}

	switch c.Index.Backend {
	case "flat":
	case "qdrant":
		if c.Index.Qdrant.Addr == "" {
			warnings = append(warnings, "index backend 'qdrant' has no addr")
		}
	case "pgvector":
		if c.Index.Postgres.DSN == "" {
			warnings = append(warnings, "index backend 'pgvector' has no dsn")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown index backend '%s' (want flat, qdrant or pgvector)", c.Index.Backend))
	}

	switch c.Mirror.Backend {
	case "none":
	case "local":
		if c.Mirror.Path == "" {
			warnings = append(warnings, "mirror backend 'local' has no path")
		}
	case "s3", "minio":
		if c.Mirror.Bucket == "" {
			warnings = append(warnings, fmt.Sprintf("mirror backend '%s' has no bucket", c.Mirror.Backend))
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown mirror backend '%s' (want none, local, s3 or minio)", c.Mirror.Backend))
	}
	if c.Mirror.RateLimit < 0 {
		warnings = append(warnings, fmt.Sprintf("mirror rate_limit %.0f is negative", c.Mirror.RateLimit))
	}

	if c.Search.K < 1 {
		warnings = append(warnings, fmt.Sprintf("search k %d must be at least 1", c.Search.K))
	}

	return warnings
}

// Load reads configuration from path and the environment. An empty path
// falls back to snipvec.yaml in the working directory, and a missing
// fallback file leaves the defaults in place. Validation warnings are
// printed to stderr; only unreadable or malformed files fail the load.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("snipvec")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SNIPVEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	for _, warning := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides bind even
// without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("dir", "snipvec-data")

	v.SetDefault("embedder.provider", "openai")
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.dimension", 384)

	v.SetDefault("index.backend", "flat")
	v.SetDefault("index.initial_capacity", 0)
	v.SetDefault("index.mmap", false)
	v.SetDefault("index.qdrant.addr", "localhost:6334")
	v.SetDefault("index.qdrant.collection", "snipvec")
	v.SetDefault("index.qdrant.wait_writes", true)
	v.SetDefault("index.postgres.dsn", "")
	v.SetDefault("index.postgres.table", "snipvec_vectors")

	v.SetDefault("mirror.backend", "none")
	v.SetDefault("mirror.path", "")
	v.SetDefault("mirror.bucket", "")
	v.SetDefault("mirror.prefix", "")
	v.SetDefault("mirror.endpoint", "")
	v.SetDefault("mirror.access_key", "")
	v.SetDefault("mirror.secret_key", "")
	v.SetDefault("mirror.use_ssl", true)
	v.SetDefault("mirror.rate_limit", 0)

	v.SetDefault("search.k", 10)
	v.SetDefault("search.overfetch", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
