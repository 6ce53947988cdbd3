package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Webhooks []WebhookEntry `yaml:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
	MaxConns int    `yaml:"max_conns"`
}

// GatewayConfig selects and configures the upstream search gateway.
type GatewayConfig struct {
	// Name of the active gateway: "google" or "duckduckgo".
	Name   string       `yaml:"name"`
	Google GoogleConfig `yaml:"google"`
}

// GoogleConfig holds the Programmable Search credential pair.
type GoogleConfig struct {
	APIKey   string `yaml:"api_key"`
	EngineID string `yaml:"engine_id"`
}

// ProxyConfig holds image proxy settings.
type ProxyConfig struct {
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxBodyMB      int      `yaml:"max_body_mb"`
	UserAgent      string   `yaml:"user_agent"`
	AllowedHosts   []string `yaml:"allowed_hosts"`
}

// SearchConfig holds aggregation controller settings.
type SearchConfig struct {
	PageSize          int `yaml:"page_size"`
	MaxOffset         int `yaml:"max_offset"`
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// WebhookEntry declares an outbound webhook target.
type WebhookEntry struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BasePath: "",
			MaxConns: 256,
		},
		Gateway: GatewayConfig{
			Name: "google",
		},
		Proxy: ProxyConfig{
			TimeoutSeconds: 10,
			MaxBodyMB:      25,
			UserAgent:      "imagewell-proxy/1.0",
		},
		Search: SearchConfig{
			PageSize:          10,
			MaxOffset:         100,
			SessionTTLMinutes: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("IW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("IW_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("IW_GATEWAY"); v != "" {
		c.Gateway.Name = v
	}
	if v := os.Getenv("IW_GOOGLE_API_KEY"); v != "" {
		c.Gateway.Google.APIKey = v
	}
	if v := os.Getenv("IW_GOOGLE_ENGINE_ID"); v != "" {
		c.Gateway.Google.EngineID = v
	}
	if v := os.Getenv("IW_PROXY_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Proxy.TimeoutSeconds = secs
		}
	}
	if v := os.Getenv("IW_PROXY_ALLOWED_HOSTS"); v != "" {
		c.Proxy.AllowedHosts = splitNonEmpty(v)
	}
	if v := os.Getenv("IW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IW_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("IW_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	switch c.Gateway.Name {
	case "google", "duckduckgo":
	default:
		return fmt.Errorf("unknown gateway: %q", c.Gateway.Name)
	}
	if c.Proxy.TimeoutSeconds < 1 {
		return fmt.Errorf("proxy timeout must be at least 1 second")
	}
	if c.Proxy.MaxBodyMB < 1 {
		return fmt.Errorf("proxy body cap must be at least 1 MB")
	}
	if c.Search.PageSize < 1 || c.Search.PageSize > 10 {
		return fmt.Errorf("page size must be between 1 and 10")
	}
	if c.Search.MaxOffset < 1 {
		return fmt.Errorf("max offset must be positive")
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}

// Save writes the config back to the given path as YAML. Used by the
// import-credentials subcommand.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
