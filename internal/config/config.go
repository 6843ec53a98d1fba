package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Vector        VectorConfig        `yaml:"vector"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Analyzer      AnalyzerConfig      `yaml:"analyzer"`
	Auth          AuthConfig          `yaml:"auth"`
	Worker        WorkerConfig        `yaml:"worker"`
	Log           LogConfig           `yaml:"log"`
	Deduplication DeduplicationConfig `yaml:"deduplication"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// VectorConfig contains vector index settings. An empty path keeps the
// index in memory; it is rebuilt from pending entries on restart.
type VectorConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig contains embedding service settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"-"` // env-only, never in YAML
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// SynthesisConfig contains note rewrite and entity drafting settings.
type SynthesisConfig struct {
	Model   string   `yaml:"model"`
	Timeout Duration `yaml:"timeout"`
}

// AnalyzerConfig contains turn analysis settings.
type AnalyzerConfig struct {
	Model            string   `yaml:"model"`
	Timeout          Duration `yaml:"timeout"`
	MaxKnownEntities int      `yaml:"max_known_entities"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	NoteUpdateWorkers     int      `yaml:"note_update_workers"`
	CreationWorkers       int      `yaml:"creation_workers"`
	PollInterval          Duration `yaml:"poll_interval"`
	MaxAttempts           int      `yaml:"max_attempts"`
	MalformedMaxAttempts  int      `yaml:"malformed_max_attempts"`
	BackoffBase           Duration `yaml:"backoff_base"`
	IndexRetryInterval    Duration `yaml:"index_retry_interval"`
	IndexRetryMaxAttempts int      `yaml:"index_retry_max_attempts"`
	IndexRetryBatchSize   int      `yaml:"index_retry_batch_size"`
	ReapInterval          Duration `yaml:"reap_interval"`
	VisibilityTimeout     Duration `yaml:"visibility_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DeduplicationConfig contains advisory duplicate detection settings for
// synthesized entities.
type DeduplicationConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("CHRONICLE_CONFIG_PATH", "config/chronicle.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/chronicle.db",
		},
		Vector: VectorConfig{
			Path: "data/chronicle.vec",
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Synthesis: SynthesisConfig{
			Model:   "gpt-4o-mini",
			Timeout: Duration(60 * time.Second),
		},
		Analyzer: AnalyzerConfig{
			Model:            "gpt-4o-mini",
			Timeout:          Duration(30 * time.Second),
			MaxKnownEntities: 200,
		},
		Worker: WorkerConfig{
			NoteUpdateWorkers:     2,
			CreationWorkers:       1,
			PollInterval:          Duration(500 * time.Millisecond),
			MaxAttempts:           5,
			MalformedMaxAttempts:  2,
			BackoffBase:           Duration(2 * time.Second),
			IndexRetryInterval:    Duration(1 * time.Minute),
			IndexRetryMaxAttempts: 10,
			IndexRetryBatchSize:   50,
			ReapInterval:          Duration(1 * time.Minute),
			VisibilityTimeout:     Duration(10 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Deduplication: DeduplicationConfig{
			Enabled:             true,
			SimilarityThreshold: 0.92,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("CHRONICLE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHRONICLE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("CHRONICLE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("CHRONICLE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Storage
	if v := os.Getenv("CHRONICLE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CHRONICLE_VECTOR_PATH"); v != "" {
		cfg.Vector.Path = v
	}

	// Models (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CHRONICLE_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("CHRONICLE_SYNTHESIS_MODEL"); v != "" {
		cfg.Synthesis.Model = v
	}
	if v := os.Getenv("CHRONICLE_SYNTHESIS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Synthesis.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("CHRONICLE_ANALYZER_MODEL"); v != "" {
		cfg.Analyzer.Model = v
	}
	if v := os.Getenv("CHRONICLE_ANALYZER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analyzer.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("CHRONICLE_MAX_KNOWN_ENTITIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analyzer.MaxKnownEntities = n
		}
	}

	// Auth
	if v := os.Getenv("CHRONICLE_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Worker
	if v := os.Getenv("CHRONICLE_NOTE_UPDATE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.NoteUpdateWorkers = n
		}
	}
	if v := os.Getenv("CHRONICLE_CREATION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.CreationWorkers = n
		}
	}
	if v := os.Getenv("CHRONICLE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("CHRONICLE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MaxAttempts = n
		}
	}
	if v := os.Getenv("CHRONICLE_MALFORMED_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MalformedMaxAttempts = n
		}
	}
	if v := os.Getenv("CHRONICLE_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.BackoffBase = Duration(d)
		}
	}
	if v := os.Getenv("CHRONICLE_INDEX_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.IndexRetryInterval = Duration(d)
		}
	}
	if v := os.Getenv("CHRONICLE_INDEX_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.IndexRetryMaxAttempts = n
		}
	}
	if v := os.Getenv("CHRONICLE_INDEX_RETRY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.IndexRetryBatchSize = n
		}
	}
	if v := os.Getenv("CHRONICLE_REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ReapInterval = Duration(d)
		}
	}
	if v := os.Getenv("CHRONICLE_VISIBILITY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.VisibilityTimeout = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("CHRONICLE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CHRONICLE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Deduplication
	if v := os.Getenv("CHRONICLE_DEDUPLICATION_ENABLED"); v != "" {
		cfg.Deduplication.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CHRONICLE_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Deduplication.SimilarityThreshold = f
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (CHRONICLE_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	// Dev mode bypasses API key validation
	if os.Getenv("CHRONICLE_DEV_MODE") == "true" {
		return nil
	}

	if c.Embedding.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("CHRONICLE_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
