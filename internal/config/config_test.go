package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"strato/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatalf("expected exists=false for %s", path)
	}
	if cfg.Stager.InlineLimitBytes != 16*1024 {
		t.Fatalf("unexpected inline limit: %d", cfg.Stager.InlineLimitBytes)
	}
	if cfg.Volume.DetachDeadlineSeconds != 30 {
		t.Fatalf("unexpected detach deadline: %d", cfg.Volume.DetachDeadlineSeconds)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[stager]
inline_limit_bytes = 4096

[volume]
attach_deadline_seconds = 90

[deploy]
command = ["/usr/local/bin/deploy.sh"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Stager.InlineLimitBytes != 4096 {
		t.Fatalf("override not applied: %d", cfg.Stager.InlineLimitBytes)
	}
	if cfg.Volume.AttachDeadlineSeconds != 90 {
		t.Fatalf("override not applied: %d", cfg.Volume.AttachDeadlineSeconds)
	}
	if len(cfg.Deploy.Command) != 1 {
		t.Fatalf("deploy command not parsed: %#v", cfg.Deploy.Command)
	}
	// Defaults survive partial files.
	if cfg.Batch.Queue != "strato-batch" {
		t.Fatalf("default lost: %q", cfg.Batch.Queue)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero inline limit", func(c *config.Config) { c.Stager.InlineLimitBytes = 0 }},
		{"zero detach deadline", func(c *config.Config) { c.Volume.DetachDeadlineSeconds = 0 }},
		{"negative attach retries", func(c *config.Config) { c.Volume.AttachRetries = -1 }},
		{"poll cap below interval", func(c *config.Config) { c.Volume.PollMaxDelaySeconds = 1 }},
		{"unknown provider", func(c *config.Config) { c.Provider.Name = "skynet" }},
		{"empty batch queue", func(c *config.Config) { c.Batch.Queue = "" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.toml")
	if err := os.WriteFile(path, []byte(config.SampleConfig()), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config must load cleanly: %v", err)
	}
}
