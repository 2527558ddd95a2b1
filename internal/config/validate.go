package config

import (
	"fmt"
	"strings"
)

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validFormats = map[string]bool{"console": true, "json": true}

// knownFormats are the output extensions the assembler can produce.
var knownFormats = map[string]bool{"epub": true, "cbz": true, "acsm": true, "pdf": true}

// Validate checks the configuration for values normalization cannot fix.
func (c *Config) Validate() error {
	var problems []string

	if !validLevels[c.Logging.Level] {
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if !validFormats[c.Logging.Format] {
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of console, json", c.Logging.Format))
	}
	if c.Output.Format != "" && !knownFormats[c.Output.Format] {
		problems = append(problems, fmt.Sprintf("output.format %q is not a supported output format", c.Output.Format))
	}
	if c.Download.Concurrency > 64 {
		problems = append(problems, fmt.Sprintf("download.concurrency %d is unreasonably high", c.Download.Concurrency))
	}
	if !strings.Contains(c.Output.Template, "{") {
		problems = append(problems, fmt.Sprintf("output.template %q contains no placeholders, every book would collide", c.Output.Template))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
