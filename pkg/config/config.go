// Package config loads streamloop settings from an optional YAML file, a
// .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Provider  Provider  `yaml:"provider"`
	Agent     Agent     `yaml:"agent"`
	Resources Resources `yaml:"resources"`
	Storage   Storage   `yaml:"storage"`
	Telemetry Telemetry `yaml:"telemetry"`
	LogLevel  string    `yaml:"log_level"`
}

type Provider struct {
	Name        string  `yaml:"name"` // "auto", "openai", "openrouter", "anthropic", "gemini" or "echo"
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Referer     string  `yaml:"referer"`  // OpenRouter only
	AppName     string  `yaml:"app_name"` // OpenRouter only
}

type Agent struct {
	SystemPrompt     string        `yaml:"system_prompt"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
}

type Resources struct {
	FileRoot   string            `yaml:"file_root"`   // files outside the root are refused; empty allows any path
	MCPServers map[string]string `yaml:"mcp_servers"` // server key -> streamable HTTP endpoint
}

type Storage struct {
	Path string `yaml:"path"` // SQLite file; empty keeps history in memory
}

type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
	MetricsAddr  string `yaml:"metrics_addr"` // serves /metrics when set
}

var providerNames = map[string]bool{
	"auto": true, "openai": true, "openrouter": true, "anthropic": true, "gemini": true, "echo": true,
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Provider: Provider{Name: "auto"},
		Agent: Agent{
			FetchConcurrency: 1,
			ThrottleInterval: 100 * time.Millisecond,
		},
		Telemetry: Telemetry{ServiceName: "streamloop"},
		LogLevel:  "info",
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Provider.Name = envStr("STREAMLOOP_PROVIDER", c.Provider.Name)
	c.Provider.APIKey = envStr("STREAMLOOP_API_KEY", c.Provider.APIKey)
	c.Provider.BaseURL = envStr("STREAMLOOP_BASE_URL", c.Provider.BaseURL)
	c.Provider.Model = envStr("STREAMLOOP_MODEL", c.Provider.Model)
	c.Provider.Temperature = envFloat("STREAMLOOP_TEMPERATURE", c.Provider.Temperature)
	c.Provider.MaxTokens = envInt("STREAMLOOP_MAX_TOKENS", c.Provider.MaxTokens)
	c.Provider.Referer = envStr("OPENROUTER_REFERER", c.Provider.Referer)
	c.Provider.AppName = envStr("OPENROUTER_APP_NAME", c.Provider.AppName)

	c.Agent.SystemPrompt = envStr("STREAMLOOP_SYSTEM_PROMPT", c.Agent.SystemPrompt)
	c.Agent.FetchConcurrency = envInt("STREAMLOOP_FETCH_CONCURRENCY", c.Agent.FetchConcurrency)
	c.Agent.ThrottleInterval = envDuration("STREAMLOOP_THROTTLE_INTERVAL", c.Agent.ThrottleInterval)

	c.Resources.FileRoot = envStr("STREAMLOOP_FILE_ROOT", c.Resources.FileRoot)
	c.Storage.Path = envStr("STREAMLOOP_DB_PATH", c.Storage.Path)

	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.Insecure = envBool("STREAMLOOP_OTLP_INSECURE", c.Telemetry.Insecure)
	c.Telemetry.MetricsAddr = envStr("STREAMLOOP_METRICS_ADDR", c.Telemetry.MetricsAddr)

	c.LogLevel = envStr("STREAMLOOP_LOG_LEVEL", c.LogLevel)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if !providerNames[strings.ToLower(c.Provider.Name)] {
		errs = append(errs, fmt.Errorf("config: unknown provider %q", c.Provider.Name))
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		errs = append(errs, fmt.Errorf("config: temperature must be within [0, 2]"))
	}
	if c.Provider.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("config: max_tokens must not be negative"))
	}
	if c.Agent.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("config: fetch_concurrency must be positive"))
	}
	if c.Agent.ThrottleInterval < 0 {
		errs = append(errs, fmt.Errorf("config: throttle_interval must not be negative"))
	}
	for key, url := range c.Resources.MCPServers {
		if key == "" || url == "" {
			errs = append(errs, fmt.Errorf("config: mcp server %q needs a key and a url", key))
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
