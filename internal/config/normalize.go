package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Deploy.WorkDir) != "" {
		if c.Deploy.WorkDir, err = expandPath(c.Deploy.WorkDir); err != nil {
			return fmt.Errorf("deploy.work_dir: %w", err)
		}
	}

	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	c.Provider.Region = strings.TrimSpace(c.Provider.Region)
	c.Provider.Bucket = strings.TrimSpace(c.Provider.Bucket)
	c.Provider.LogGroup = strings.TrimSpace(c.Provider.LogGroup)
	if c.Provider.LogGroup == "" {
		c.Provider.LogGroup = defaultLogGroup
	}

	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
