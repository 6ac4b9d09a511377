// Package config loads application configuration from config.yaml and
// CREATORSCOPE_* environment variables.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	YouTube   YouTubeConfig   `yaml:"youtube" mapstructure:"youtube"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// YouTubeConfig holds YouTube Data API settings.
type YouTubeConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AuditConfig configures pipeline behavior.
type AuditConfig struct {
	MaxVideos     int `yaml:"max_videos" mapstructure:"max_videos"`
	WindowDays    int `yaml:"window_days" mapstructure:"window_days"`
	PeerLimit     int `yaml:"peer_limit" mapstructure:"peer_limit"`
	VideosPerPeer int `yaml:"videos_per_peer" mapstructure:"videos_per_peer"`
	FetchWorkers  int `yaml:"fetch_workers" mapstructure:"fetch_workers"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PricingConfig holds per-model pricing overrides; empty means the
// built-in rates apply.
type PricingConfig struct {
	Analysis map[string]ModelPricing `yaml:"analysis" mapstructure:"analysis"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CREATORSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "audits.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("youtube.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("youtube.requests_per_second", 8.0)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("audit.max_videos", 50)
	v.SetDefault("audit.window_days", 90)
	v.SetDefault("audit.peer_limit", 25)
	v.SetDefault("audit.videos_per_peer", 20)
	v.SetDefault("audit.fetch_workers", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Driver: "sqlite", SQLitePath: "audits.db"},
		YouTube: YouTubeConfig{
			BaseURL:           "https://www.googleapis.com/youtube/v3",
			RequestsPerSecond: 8.0,
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 4096,
		},
		Audit: AuditConfig{
			MaxVideos:     50,
			WindowDays:    90,
			PeerLimit:     25,
			VideosPerPeer: 20,
			FetchWorkers:  4,
		},
		Server: ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// DefaultYAML renders the default configuration as a config.yaml
// starting point.
func DefaultYAML() ([]byte, error) {
	out, err := yaml.Marshal(Default())
	return out, eris.Wrap(err, "config: marshal defaults")
}

// Validate checks the configuration for the given run mode. Modes:
// "audit" (pipeline runs from the CLI) and "serve" (dashboard API).
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(cond bool, msg string) {
		if cond {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "audit":
		check(c.YouTube.Key == "", "youtube.key is required")
		check(c.Anthropic.Key == "", "anthropic.key is required")
	case "serve":
		check(c.YouTube.Key == "", "youtube.key is required")
		check(c.Anthropic.Key == "", "anthropic.key is required")
		check(c.Server.Port <= 0, "server.port must be > 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	check(c.Store.Driver != "sqlite" && c.Store.Driver != "postgres",
		"store.driver must be sqlite or postgres")
	if c.Store.Driver == "postgres" {
		check(c.Store.DatabaseURL == "", "store.database_url is required for the postgres driver")
	}
	check(c.Audit.MaxVideos <= 0, "audit.max_videos must be > 0")
	check(c.Audit.WindowDays <= 0, "audit.window_days must be > 0")
	check(c.Audit.PeerLimit <= 0 || c.Audit.PeerLimit > 100,
		"audit.peer_limit must be between 1 and 100")
	check(c.Audit.FetchWorkers <= 0, "audit.fetch_workers must be > 0")

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
