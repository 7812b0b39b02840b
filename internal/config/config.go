// Package config loads advisor configuration from file and environment and
// configures the global logger.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agsys/soil-advisor/internal/voice"
)

// Config is the root configuration
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Cloud  CloudConfig  `yaml:"cloud" mapstructure:"cloud"`
	Sync   SyncConfig   `yaml:"sync" mapstructure:"sync"`
	Voice  VoiceConfig  `yaml:"voice" mapstructure:"voice"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig locates the two offline tiers
type StoreConfig struct {
	Path         string `yaml:"path" mapstructure:"path"`
	FallbackPath string `yaml:"fallback_path" mapstructure:"fallback_path"`
}

// CloudConfig configures the remote endpoint and realtime link
type CloudConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	WebSocketURL      string        `yaml:"websocket_url" mapstructure:"websocket_url"`
	ProbeURL          string        `yaml:"probe_url" mapstructure:"probe_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	DeviceID          string        `yaml:"device_id" mapstructure:"device_id"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" mapstructure:"http_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// SyncConfig configures reconciliation
type SyncConfig struct {
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	Method         string        `yaml:"method" mapstructure:"method"`
	Interval       time.Duration `yaml:"interval" mapstructure:"interval"`
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	Auto           bool          `yaml:"auto" mapstructure:"auto"`
}

// VoiceConfig configures speech output
type VoiceConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Locale  string `yaml:"locale" mapstructure:"locale"`
}

// ServerConfig configures the local HTTP API
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An explicit path must
// exist; otherwise advisor.yaml is looked up in . and /etc/agsys and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("advisor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/agsys")
	}

	// Environment
	v.SetEnvPrefix("ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "/var/lib/agsys/advisor.db")
	v.SetDefault("store.fallback_path", "/var/lib/agsys/advisor-fallback.yaml")
	v.SetDefault("cloud.base_url", "")
	v.SetDefault("cloud.websocket_url", "")
	v.SetDefault("cloud.probe_url", "")
	v.SetDefault("cloud.api_key", "")
	v.SetDefault("cloud.device_id", "")
	v.SetDefault("cloud.http_timeout", 30*time.Second)
	v.SetDefault("cloud.requests_per_second", 5.0)
	v.SetDefault("cloud.burst", 5)
	v.SetDefault("sync.endpoint", "/soil/measurements")
	v.SetDefault("sync.method", "POST")
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.max_concurrency", 4)
	v.SetDefault("sync.auto", true)
	v.SetDefault("voice.enabled", true)
	v.SetDefault("voice.locale", "en")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []string

	if c.Store.Path == "" && c.Store.FallbackPath == "" {
		errs = append(errs, "store.path or store.fallback_path is required")
	}

	switch strings.ToUpper(c.Sync.Method) {
	case "", "POST", "PUT":
	default:
		errs = append(errs, fmt.Sprintf("sync.method must be POST or PUT, got %q", c.Sync.Method))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, "sync.interval must be >= 0")
	}
	if c.Sync.Auto && c.Sync.Interval == 0 {
		errs = append(errs, "sync.interval must be > 0 when sync.auto is set")
	}
	if c.Sync.MaxConcurrency < 0 {
		errs = append(errs, "sync.max_concurrency must be >= 0")
	}

	if c.Cloud.HTTPTimeout < 0 {
		errs = append(errs, "cloud.http_timeout must be >= 0")
	}
	if c.Cloud.RequestsPerSecond < 0 {
		errs = append(errs, "cloud.requests_per_second must be >= 0")
	}
	urls := []struct{ name, raw string }{
		{"cloud.base_url", c.Cloud.BaseURL},
		{"cloud.websocket_url", c.Cloud.WebSocketURL},
		{"cloud.probe_url", c.Cloud.ProbeURL},
	}
	for _, u := range urls {
		if u.raw == "" {
			continue
		}
		if parsed, err := url.Parse(u.raw); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Sprintf("%s is not an absolute URL", u.name))
		}
	}

	if !voice.Locale(c.Voice.Locale).Valid() {
		errs = append(errs, fmt.Sprintf("voice.locale must be one of en, hi, te, ta, got %q", c.Voice.Locale))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
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
