package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Network configuration
	ExplorerAPIURL    string
	ExplorerWebURL    string
	ReleasesLatestURL string
	CurrentVersion    string

	// Synchronization configuration
	MaxWatchedAddresses  int
	PendingPollInterval  time.Duration
	VersionCheckInterval time.Duration
	PendingRetirePolicy  string
	PendingMatchWindow   time.Duration

	// Metadata storage configuration
	MetadataBackend string
	MetadataPath    string
	DatabaseURL     string

	// NATS configuration (empty disables publishing)
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	SyncInterval      time.Duration
}

// Settings is the optional YAML settings file. Environment variables take
// precedence over it.
type Settings struct {
	Network NetworkSettings `yaml:"network"`
	Sync    SyncSettings    `yaml:"sync"`
}

// NetworkSettings mirrors the wallet's network settings screen.
type NetworkSettings struct {
	ExplorerAPIHost string `yaml:"explorer_api_host"`
	ExplorerURL     string `yaml:"explorer_url"`
	ReleasesURL     string `yaml:"releases_url"`
}

type SyncSettings struct {
	PendingPollInterval string `yaml:"pending_poll_interval"`
	RetirePolicy        string `yaml:"retire_policy"`
}

// LoadSettings reads a YAML settings file. A missing file yields empty settings.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return s, nil
}

// Load reads configuration from a .env file, the YAML settings file and
// environment variables, and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	// Variables already set in the environment win over the .env file.
	envFile := getEnvOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	settings, err := LoadSettings(os.Getenv("SETTINGS_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Network configuration
	cfg.ExplorerAPIURL = getEnvOrDefault("EXPLORER_API_URL", settings.Network.ExplorerAPIHost)
	if cfg.ExplorerAPIURL == "" {
		errs = append(errs, fmt.Errorf("EXPLORER_API_URL is required"))
	} else if err := validateURL("EXPLORER_API_URL", cfg.ExplorerAPIURL); err != nil {
		errs = append(errs, err)
	}
	cfg.ExplorerWebURL = getEnvOrDefault("EXPLORER_WEB_URL", settings.Network.ExplorerURL)
	cfg.ReleasesLatestURL = getEnvOrDefault("RELEASES_LATEST_URL",
		firstNonEmpty(settings.Network.ReleasesURL, "https://api.github.com/repos/alephium/desktop-wallet/releases/latest"))
	cfg.CurrentVersion = getEnvOrDefault("APP_VERSION", "")

	// Synchronization configuration
	maxWatched, err := parseInt("MAX_WATCHED_ADDRESSES", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxWatchedAddresses = maxWatched
	}

	pollInterval, err := parseDuration("PENDING_POLL_INTERVAL", firstNonEmpty(settings.Sync.PendingPollInterval, "2s"))
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PendingPollInterval = pollInterval
	}

	versionInterval, err := parseDuration("VERSION_CHECK_INTERVAL", "1h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.VersionCheckInterval = versionInterval
	}

	cfg.PendingRetirePolicy = getEnvOrDefault("PENDING_RETIRE_POLICY", firstNonEmpty(settings.Sync.RetirePolicy, "never"))
	matchWindow, err := parseDuration("PENDING_MATCH_WINDOW", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PendingMatchWindow = matchWindow
	}

	// Metadata storage configuration
	cfg.MetadataBackend = getEnvOrDefault("METADATA_BACKEND", "pebble")
	cfg.MetadataPath = getEnvOrDefault("METADATA_PATH", "./data/metadata")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "walletsync-address-sync")
	syncInterval, err := parseDuration("SYNC_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SyncInterval = syncInterval
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ExplorerAPIURL == "" {
		errs = append(errs, fmt.Errorf("ExplorerAPIURL is required"))
	}

	if c.MaxWatchedAddresses < 1 {
		errs = append(errs, fmt.Errorf("MaxWatchedAddresses must be at least 1"))
	}

	if c.PendingPollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("PendingPollInterval must be at least 100ms"))
	}

	if c.VersionCheckInterval < time.Minute {
		errs = append(errs, fmt.Errorf("VersionCheckInterval must be at least 1 minute"))
	}

	switch c.PendingRetirePolicy {
	case "never", "id", "match":
	default:
		errs = append(errs, fmt.Errorf("PendingRetirePolicy must be one of never, id, match (got %q)", c.PendingRetirePolicy))
	}

	switch c.MetadataBackend {
	case "pebble", "file":
		if c.MetadataPath == "" {
			errs = append(errs, fmt.Errorf("MetadataPath is required for the %s backend", c.MetadataBackend))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DatabaseURL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("MetadataBackend must be one of pebble, file, postgres (got %q)", c.MetadataBackend))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.SyncInterval < time.Second {
		errs = append(errs, fmt.Errorf("SyncInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func validateURL(key, value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: invalid URL %q", key, value)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
