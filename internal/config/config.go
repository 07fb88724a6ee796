// Package config provides configuration management for pricelearn.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/quotely/pricelearn/pkg/models"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38710

	// BackendMemory keeps profiles in process memory only.
	BackendMemory = "memory"
	// BackendSQLite persists to an embedded database file.
	BackendSQLite = "sqlite"
	// BackendPostgres persists to a PostgreSQL server.
	BackendPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerPort int `json:"worker_port"`

	// Storage settings
	Backend     string `json:"backend"` // memory | sqlite | postgres
	DBPath      string `json:"db_path"`
	PostgresDSN string `json:"postgres_dsn"`
	MaxConns    int    `json:"max_conns"`

	// Extraction service settings
	ExtractionURL    string `json:"extraction_url"`
	ExtractionAPIKey string `json:"extraction_api_key"`

	// Embedding provider settings
	EmbeddingBaseURL    string `json:"embedding_base_url"`
	EmbeddingAPIKey     string `json:"embedding_api_key"`
	EmbeddingModel      string `json:"embedding_model"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`

	// Event processing
	EventTimeoutSeconds int `json:"event_timeout_seconds"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// DataDir returns the data directory path (~/.pricelearn).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pricelearn")
}

// DBPath returns the embedded database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "pricelearn.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// TunablesPath returns the tunables file path.
func TunablesPath() string {
	return filepath.Join(DataDir(), "tunables.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  "PRICELEARN_WORKER_PORT": 38710,
  "PRICELEARN_BACKEND": "sqlite",
  "PRICELEARN_EVENT_TIMEOUT_SECONDS": 10
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:          DefaultWorkerPort,
		Backend:             BackendSQLite,
		DBPath:              DBPath(),
		MaxConns:            4,
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		EventTimeoutSeconds: 10,
	}
}

// Load loads configuration from the settings file, merging with defaults.
// Environment variables with the same keys override file values.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	settings := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &settings); err != nil {
			settings = nil // fall through to defaults on parse error
		}
	}
	for _, key := range []string{
		"PRICELEARN_WORKER_PORT", "PRICELEARN_BACKEND", "PRICELEARN_DB_PATH",
		"PRICELEARN_POSTGRES_DSN", "PRICELEARN_MAX_CONNS",
		"PRICELEARN_EXTRACTION_URL", "PRICELEARN_EXTRACTION_API_KEY",
		"PRICELEARN_EMBEDDING_BASE_URL", "PRICELEARN_EMBEDDING_API_KEY",
		"PRICELEARN_EMBEDDING_MODEL", "PRICELEARN_EMBEDDING_DIMENSIONS",
		"PRICELEARN_EVENT_TIMEOUT_SECONDS",
	} {
		if v := os.Getenv(key); v != "" {
			if settings == nil {
				settings = make(map[string]interface{})
			}
			settings[key] = coerce(v)
		}
	}

	if v, ok := settings["PRICELEARN_WORKER_PORT"].(float64); ok && v > 0 {
		cfg.WorkerPort = int(v)
	}
	if v, ok := settings["PRICELEARN_BACKEND"].(string); ok && v != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := settings["PRICELEARN_DB_PATH"].(string); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := settings["PRICELEARN_POSTGRES_DSN"].(string); ok && v != "" {
		cfg.PostgresDSN = v
	}
	if v, ok := settings["PRICELEARN_MAX_CONNS"].(float64); ok && v > 0 {
		cfg.MaxConns = int(v)
	}
	if v, ok := settings["PRICELEARN_EXTRACTION_URL"].(string); ok {
		cfg.ExtractionURL = v
	}
	if v, ok := settings["PRICELEARN_EXTRACTION_API_KEY"].(string); ok {
		cfg.ExtractionAPIKey = v
	}
	if v, ok := settings["PRICELEARN_EMBEDDING_BASE_URL"].(string); ok {
		cfg.EmbeddingBaseURL = v
	}
	if v, ok := settings["PRICELEARN_EMBEDDING_API_KEY"].(string); ok {
		cfg.EmbeddingAPIKey = v
	}
	if v, ok := settings["PRICELEARN_EMBEDDING_MODEL"].(string); ok && v != "" {
		cfg.EmbeddingModel = v
	}
	if v, ok := settings["PRICELEARN_EMBEDDING_DIMENSIONS"].(float64); ok && v > 0 {
		cfg.EmbeddingDimensions = int(v)
	}
	if v, ok := settings["PRICELEARN_EVENT_TIMEOUT_SECONDS"].(float64); ok && v > 0 {
		cfg.EventTimeoutSeconds = int(v)
	}

	return cfg, nil
}

// coerce parses an env string into the JSON-shaped value the settings map
// carries: numbers become float64, booleans bool, everything else string.
func coerce(v string) interface{} {
	var parsed interface{}
	if err := json.Unmarshal([]byte(v), &parsed); err == nil {
		switch parsed.(type) {
		case float64, bool:
			return parsed
		}
	}
	return v
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})
	return globalConfig
}

// LoadTunables reads the tunables file, merging over the defaults. A missing
// file yields the defaults; a malformed file is an error because silently
// running with half-applied thresholds is worse than failing.
func LoadTunables(path string) (*models.Tunables, error) {
	tunables := models.DefaultTunables()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tunables, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, tunables); err != nil {
		return nil, err
	}
	return tunables, nil
}
