package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StrategyRoundRobin = "round-robin"
	StrategyRandom     = "random"

	BackendFile   = "file"
	BackendSQLite = "sqlite"

	ProviderTextList = "textlist"
	ProviderTMProxy  = "tmproxy"
	ProviderKiot     = "kiotproxy"
)

type Config struct {
	Enabled           bool
	Strategy          string
	RetryAttempts     int
	MaxRotations      int
	ConnectionTimeout time.Duration
	MaxRedirects      int
	ProxyList         []string

	RemoteURL        string
	Provider         string
	ProviderAPIKey   string
	RefreshOnStartup bool
	RefreshInterval  time.Duration
	FallbackList     []string

	StoreBackend string
	StorePath    string

	APIPort     int
	APIUsername string
	APIPassword string
	LogLevel    string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Enabled:           getEnvAsBool("PROXY_ENABLED", false),
		Strategy:          getEnv("PROXY_STRATEGY", StrategyRoundRobin),
		RetryAttempts:     getEnvAsInt("PROXY_RETRY_ATTEMPTS", 3),
		MaxRotations:      getEnvAsInt("PROXY_MAX_ROTATIONS", 10),
		ConnectionTimeout: time.Duration(getEnvAsInt("PROXY_CONNECTION_TIMEOUT", 20000)) * time.Millisecond,
		MaxRedirects:      getEnvAsInt("PROXY_MAX_REDIRECTS", 5),
		ProxyList:         getEnvAsList("PROXY_LIST"),
		RemoteURL:         getEnv("PROXY_REMOTE_URL", ""),
		Provider:          getEnv("PROXY_PROVIDER", ProviderTextList),
		ProviderAPIKey:    getEnv("PROXY_PROVIDER_API_KEY", ""),
		RefreshOnStartup:  getEnvAsBool("PROXY_REFRESH_ON_STARTUP", false),
		RefreshInterval:   time.Duration(getEnvAsInt("PROXY_REFRESH_INTERVAL", 0)) * time.Second,
		FallbackList:      getEnvAsList("PROXY_FALLBACK_LIST"),
		StoreBackend:      getEnv("PROXY_STORE_BACKEND", BackendFile),
		StorePath:         getEnv("PROXY_STORE_PATH", "./data/proxy_state.json"),
		APIPort:           getEnvAsInt("API_PORT", 8080),
		APIUsername:       getEnv("API_USERNAME", "admin"),
		APIPassword:       getEnv("API_PASSWORD", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values that would otherwise fail deep inside the
// executor or the store.
func (c *Config) Validate() error {
	if c.Strategy != StrategyRoundRobin && c.Strategy != StrategyRandom {
		return fmt.Errorf("PROXY_STRATEGY must be '%s' or '%s', got '%s'", StrategyRoundRobin, StrategyRandom, c.Strategy)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("PROXY_RETRY_ATTEMPTS must be at least 1")
	}
	if c.MaxRotations < 0 {
		return fmt.Errorf("PROXY_MAX_ROTATIONS must not be negative")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("PROXY_CONNECTION_TIMEOUT must be positive")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("PROXY_MAX_REDIRECTS must not be negative")
	}
	if c.StoreBackend != BackendFile && c.StoreBackend != BackendSQLite {
		return fmt.Errorf("PROXY_STORE_BACKEND must be '%s' or '%s'", BackendFile, BackendSQLite)
	}

	switch c.Provider {
	case ProviderTextList:
	case ProviderTMProxy, ProviderKiot:
		if c.RefreshEnabled() && c.ProviderAPIKey == "" {
			return fmt.Errorf("PROXY_PROVIDER_API_KEY is required for provider %s", c.Provider)
		}
	default:
		return fmt.Errorf("unknown PROXY_PROVIDER: %s", c.Provider)
	}

	return nil
}

// ValidateServe checks what the operator API needs before it listens on all
// interfaces. /api/fetch relays arbitrary URLs, so it is never served open.
func (c *Config) ValidateServe() error {
	if c.APIPassword == "" {
		return fmt.Errorf("API_PASSWORD environment variable is required to serve the API")
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535")
	}
	return nil
}

// RefreshEnabled reports whether a remote provider is configured at all.
func (c *Config) RefreshEnabled() bool {
	if c.Provider == ProviderTextList {
		return c.RemoteURL != ""
	}
	return c.RefreshOnStartup || c.RefreshInterval > 0
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsList splits on commas and newlines and drops blanks.
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	fields := strings.FieldsFunc(valueStr, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	var list []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			list = append(list, f)
		}
	}
	return list
}
