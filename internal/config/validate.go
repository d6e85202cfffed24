package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateStager(); err != nil {
		return err
	}
	if err := c.validateVolume(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateDeploy(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.Provider.Name {
	case "local":
	case "":
		return errors.New("provider.name must be set")
	default:
		return fmt.Errorf("provider.name: unknown provider %q (supported: local)", c.Provider.Name)
	}
	if c.Provider.Region == "" {
		return errors.New("provider.region must be set")
	}
	return nil
}

func (c *Config) validateStager() error {
	if c.Stager.InlineLimitBytes <= 0 {
		return errors.New("stager.inline_limit_bytes must be positive")
	}
	if c.Stager.PresignTTLHours <= 0 {
		return errors.New("stager.presign_ttl_hours must be positive")
	}
	return nil
}

func (c *Config) validateVolume() error {
	if c.Volume.CreateTimeoutSeconds <= 0 {
		return errors.New("volume.create_timeout_seconds must be positive")
	}
	if c.Volume.AttachDeadlineSeconds <= 0 {
		return errors.New("volume.attach_deadline_seconds must be positive")
	}
	if c.Volume.DetachDeadlineSeconds <= 0 {
		return errors.New("volume.detach_deadline_seconds must be positive")
	}
	if c.Volume.AttachRetries < 0 {
		return errors.New("volume.attach_retries must not be negative")
	}
	if c.Volume.PollIntervalSeconds <= 0 {
		return errors.New("volume.poll_interval_seconds must be positive")
	}
	if c.Volume.PollMaxDelaySeconds < c.Volume.PollIntervalSeconds {
		return errors.New("volume.poll_max_delay_seconds must be at least the poll interval")
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.Queue == "" {
		return errors.New("batch.queue must be set")
	}
	if c.Batch.JobRole == "" {
		return errors.New("batch.job_role must be set")
	}
	if c.Batch.DefaultVCPUs <= 0 {
		return errors.New("batch.default_vcpus must be positive")
	}
	if c.Batch.DefaultMemoryMB <= 0 {
		return errors.New("batch.default_memory_mb must be positive")
	}
	if c.Batch.RetryAttempts <= 0 {
		return errors.New("batch.retry_attempts must be positive")
	}
	if c.Batch.PollIntervalSeconds <= 0 {
		return errors.New("batch.poll_interval_seconds must be positive")
	}
	if c.Batch.LookupRetries <= 0 {
		return errors.New("batch.lookup_retries must be positive")
	}
	return nil
}

func (c *Config) validateDeploy() error {
	if c.Deploy.PollIntervalSeconds <= 0 {
		return errors.New("deploy.poll_interval_seconds must be positive")
	}
	if c.Deploy.CommandTimeoutSeconds <= 0 {
		return errors.New("deploy.command_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
