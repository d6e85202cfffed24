package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	MetricsBind string `toml:"metrics_bind"`
}

// Provider contains settings for the cloud provider connection.
type Provider struct {
	Name     string `toml:"name"`
	Region   string `toml:"region"`
	Bucket   string `toml:"bucket"`
	LogGroup string `toml:"log_group"`
}

// Stager contains execution payload staging settings.
type Stager struct {
	// InlineLimitBytes is the payload size above which staging through the
	// object store is mandatory. Provider transports cap inline command
	// fields, so this is tunable rather than fixed.
	InlineLimitBytes int `toml:"inline_limit_bytes"`
	PresignTTLHours  int `toml:"presign_ttl_hours"`
}

// Volume contains volume lifecycle deadlines and retry bounds.
type Volume struct {
	CreateTimeoutSeconds  int `toml:"create_timeout_seconds"`
	AttachDeadlineSeconds int `toml:"attach_deadline_seconds"`
	DetachDeadlineSeconds int `toml:"detach_deadline_seconds"`
	AttachRetries         int `toml:"attach_retries"`
	PollIntervalSeconds   int `toml:"poll_interval_seconds"`
	PollMaxDelaySeconds   int `toml:"poll_max_delay_seconds"`
}

// Batch contains job submission defaults and watch settings.
type Batch struct {
	Queue               string `toml:"queue"`
	JobRole             string `toml:"job_role"`
	DefaultImage        string `toml:"default_image"`
	DefaultVCPUs        int    `toml:"default_vcpus"`
	DefaultMemoryMB     int    `toml:"default_memory_mb"`
	RetryAttempts       int    `toml:"retry_attempts"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	LookupRetries       int    `toml:"lookup_retries"`
}

// Deploy contains deploy pilot settings.
type Deploy struct {
	PollIntervalSeconds   int      `toml:"poll_interval_seconds"`
	Command               []string `toml:"command"`
	CommandTimeoutSeconds int      `toml:"command_timeout_seconds"`
	WorkDir               string   `toml:"work_dir"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Deploys        bool   `toml:"deploys"`
	Jobs           bool   `toml:"jobs"`
	Volumes        bool   `toml:"volumes"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for strato.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and metrics bind address
//   - Provider: cloud provider connection settings
//   - Stager: inline payload limit and staged object TTL
//   - Volume: lifecycle deadlines, poll schedule, retry bounds
//   - Batch: job defaults, watch interval, lookup retry bound
//   - Deploy: pilot poll interval and apply command
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Provider      Provider      `toml:"provider"`
	Stager        Stager        `toml:"stager"`
	Volume        Volume        `toml:"volume"`
	Batch         Batch         `toml:"batch"`
	Deploy        Deploy        `toml:"deploy"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/strato/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("strato.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SampleConfig returns the embedded sample configuration content.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the embedded sample configuration to path.
func CreateSample(path string) error {
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// ExpandPath expands a leading ~ and returns a cleaned absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
