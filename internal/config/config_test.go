package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  base_path: /tmp/cutroom-test\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.FFmpeg.Path != "ffmpeg" || cfg.FFmpeg.ProbePath != "ffprobe" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.FFmpeg.ProbeTimeout != 30*time.Second {
		t.Errorf("ProbeTimeout = %v", cfg.FFmpeg.ProbeTimeout)
	}
	if cfg.History.Path != "/tmp/cutroom-test/history.db" {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
	if cfg.CleanupAge() != 7*24*time.Hour {
		t.Errorf("CleanupAge() = %v", cfg.CleanupAge())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
orchestrator:
  max_concurrency: 3
ffmpeg:
  probe_timeout: 5s
log:
  level: debug
`)
	t.Setenv("CUTROOM_SERVER_PORT", "9191")
	t.Setenv("CUTROOM_STORAGE_KEEP_PARTIAL_OUTPUT", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Port = %d, want env override 9191", cfg.Server.Port)
	}
	if !cfg.Storage.KeepPartialOutput {
		t.Error("KeepPartialOutput not read from env")
	}
	if cfg.Orchestrator.MaxConcurrency != 3 || cfg.FFmpeg.ProbeTimeout != 5*time.Second || cfg.Log.Level != "debug" {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Storage:  StorageConfig{BasePath: "/data", AutoCleanup: true, CleanupAfterDays: 7},
			Encoding: EncodingConfig{DefaultQuality: "high", DefaultResolution: "original"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"no base path", func(c *Config) { c.Storage.BasePath = "" }, "base_path"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative threads", func(c *Config) { c.FFmpeg.Threads = -1 }, "threads"},
		{"negative concurrency", func(c *Config) { c.Orchestrator.MaxConcurrency = -2 }, "max_concurrency"},
		{"cleanup without age", func(c *Config) { c.Storage.CleanupAfterDays = 0 }, "cleanup_after_days"},
		{"unknown quality", func(c *Config) { c.Encoding.DefaultQuality = "ultra" }, "encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
