package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the pipeline and browse server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Explorer  ExplorerConfig
	Output    OutputConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
}

// ServerConfig holds HTTP server configuration for the browse server
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// StorageConfig holds run store configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// ExplorerConfig holds explorer API settings
type ExplorerConfig struct {
	URL           string
	APIKey        string
	MinIntervalMs int // minimum spacing between requests, milliseconds
}

// OutputConfig holds output tree settings
type OutputConfig struct {
	Dir string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// MetricsConfig holds Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool
}

// RateLimitConfig holds per-client rate limiting for the browse server
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("CONTRAPULL_PORT", 8080),
			Host:         getEnv("CONTRAPULL_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvInt("CONTRAPULL_SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvInt("CONTRAPULL_SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvInt("CONTRAPULL_SERVER_IDLE_TIMEOUT", 120),
		},
		Storage: StorageConfig{
			Type: getEnv("CONTRAPULL_STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("CONTRAPULL_DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("CONTRAPULL_SQLITE_PATH", "./data/contrapull.db"),
			},
		},
		Explorer: ExplorerConfig{
			URL:           getEnv("CONTRAPULL_EXPLORER_URL", "https://api.etherscan.io"),
			APIKey:        getEnv("CONTRAPULL_API_KEY", ""),
			MinIntervalMs: getEnvInt("CONTRAPULL_MIN_INTERVAL_MS", 200),
		},
		Output: OutputConfig{
			Dir: getEnv("CONTRAPULL_OUTPUT_DIR", "./contracts"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("CONTRAPULL_LOG_LEVEL", "info"),
			Format: getEnv("CONTRAPULL_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("CONTRAPULL_METRICS_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("CONTRAPULL_RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("CONTRAPULL_RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("CONTRAPULL_RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("CONTRAPULL_RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("CONTRAPULL_SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("CONTRAPULL_SECURITY_MAX_BODY_SIZE_MB", 1),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("CONTRAPULL_TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("CONTRAPULL_TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
	}

	// If a database URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
