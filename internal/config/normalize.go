package config

import "strings"

func (c *Config) normalize() error {
	if err := c.normalizeOutput(); err != nil {
		return err
	}
	c.normalizeDownload()
	c.normalizeLogging()
	c.normalizeSources()
	return nil
}

func (c *Config) normalizeOutput() error {
	defaults := Default()
	if strings.TrimSpace(c.Output.Directory) == "" {
		c.Output.Directory = defaults.Output.Directory
	}
	expanded, err := expandPath(c.Output.Directory)
	if err != nil {
		return err
	}
	c.Output.Directory = expanded

	if strings.TrimSpace(c.Output.Template) == "" {
		c.Output.Template = defaults.Output.Template
	}
	c.Output.Format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Output.Format), "."))
	return nil
}

func (c *Config) normalizeDownload() {
	defaults := Default().Download
	if c.Download.Concurrency <= 0 {
		c.Download.Concurrency = defaults.Concurrency
	}
	if c.Download.RetryAttempts <= 0 {
		c.Download.RetryAttempts = defaults.RetryAttempts
	}
	if c.Download.RetryBaseMS <= 0 {
		c.Download.RetryBaseMS = defaults.RetryBaseMS
	}
	if c.Download.RetryMaxMS < c.Download.RetryBaseMS {
		c.Download.RetryMaxMS = defaults.RetryMaxMS
	}
	if c.Download.TimeoutSeconds <= 0 {
		c.Download.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if strings.TrimSpace(c.Download.UserAgent) == "" {
		c.Download.UserAgent = defaults.UserAgent
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// normalizeSources lowercases the source keys so lookups are
// case-insensitive.
func (c *Config) normalizeSources() {
	if c.Sources == nil {
		c.Sources = map[string]Source{}
		return
	}
	normalized := make(map[string]Source, len(c.Sources))
	for name, creds := range c.Sources {
		normalized[strings.ToLower(strings.TrimSpace(name))] = creds
	}
	c.Sources = normalized
}
