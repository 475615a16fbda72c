package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cutroom/backend/internal/profile"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	FFmpeg       FFmpegConfig       `mapstructure:"ffmpeg"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Encoding     EncodingConfig     `mapstructure:"encoding"`
	Log          LogConfig          `mapstructure:"log"`
	History      HistoryConfig      `mapstructure:"history"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Production  bool     `mapstructure:"production"`
	CorsOrigins []string `mapstructure:"cors_origins"`
}

type StorageConfig struct {
	BasePath          string `mapstructure:"base_path"`
	KeepPartialOutput bool   `mapstructure:"keep_partial_output"`
	AutoCleanup       bool   `mapstructure:"auto_cleanup"`
	CleanupAfterDays  int    `mapstructure:"cleanup_after_days"`
}

type FFmpegConfig struct {
	Path         string        `mapstructure:"path"`
	ProbePath    string        `mapstructure:"ffprobe_path"`
	Threads      int           `mapstructure:"threads"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type OrchestratorConfig struct {
	// MaxConcurrency caps running engine processes; 0 means one per CPU.
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// EncodingConfig holds the defaults applied when a request names no preset.
type EncodingConfig struct {
	DefaultQuality    string `mapstructure:"default_quality"`
	DefaultResolution string `mapstructure:"default_resolution"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cutroom/")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".cutroom"))
	}

	// CUTROOM_SERVER_PORT overrides server.port
	v.SetEnvPrefix("CUTROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Storage.BasePath = os.ExpandEnv(cfg.Storage.BasePath)
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.Storage.BasePath, "history.db")
	}
	cfg.History.Path = os.ExpandEnv(cfg.History.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c.Storage.BasePath == "" {
		return fmt.Errorf("storage.base_path must be set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.FFmpeg.Threads < 0 {
		return fmt.Errorf("ffmpeg.threads must be >= 0, got %d", c.FFmpeg.Threads)
	}
	if c.Orchestrator.MaxConcurrency < 0 {
		return fmt.Errorf("orchestrator.max_concurrency must be >= 0, got %d", c.Orchestrator.MaxConcurrency)
	}
	if c.Storage.AutoCleanup && c.Storage.CleanupAfterDays <= 0 {
		return fmt.Errorf("storage.cleanup_after_days must be > 0 when auto_cleanup is on")
	}
	if _, err := profile.NewResolver().Resolve(c.Encoding.DefaultQuality, c.Encoding.DefaultResolution, 0); err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	return nil
}

// CleanupAge is how long outputs are kept when auto cleanup is on.
func (c *Config) CleanupAge() time.Duration {
	return time.Duration(c.Storage.CleanupAfterDays) * 24 * time.Hour
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.production", false)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.base_path", "/var/cutroom")
	v.SetDefault("storage.keep_partial_output", false)
	v.SetDefault("storage.auto_cleanup", true)
	v.SetDefault("storage.cleanup_after_days", 7)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg.threads", 0) // auto
	v.SetDefault("ffmpeg.probe_timeout", 30*time.Second)

	v.SetDefault("orchestrator.max_concurrency", 0)

	v.SetDefault("encoding.default_quality", profile.DefaultQuality)
	v.SetDefault("encoding.default_resolution", profile.DefaultResolution)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
}
