package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Output controls where finished books land.
type Output struct {
	Directory string `toml:"directory"`
	Template  string `toml:"template"`
	Format    string `toml:"format"`
	Overwrite bool   `toml:"overwrite"`
}

// Download tunes content fetching.
type Download struct {
	Concurrency    int    `toml:"concurrency"`
	RetryAttempts  int    `toml:"retry_attempts"`
	RetryBaseMS    int    `toml:"retry_base_ms"`
	RetryMaxMS     int    `toml:"retry_max_ms"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// Metadata controls post-assembly metadata merging.
type Metadata struct {
	WriteToEpub bool `toml:"write_to_epub"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Source holds per-source credentials. Environment variables of the form
// GRAWLIX_<SOURCE>_USERNAME / _PASSWORD / _LIBRARY override the file.
type Source struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Library  string `toml:"library"`
}

// Config is the complete application configuration.
type Config struct {
	Output   Output            `toml:"output"`
	Download Download          `toml:"download"`
	Metadata Metadata          `toml:"metadata"`
	Logging  Logging           `toml:"logging"`
	Sources  map[string]Source `toml:"sources"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/grawlix/grawlix.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has path fields expanded and credential overrides from the
// environment applied. A .env file in the working directory is loaded
// first when present.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

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

	projectPath, err := filepath.Abs("grawlix.toml")
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

// Credentials returns the credentials for a source, with environment
// overrides applied. The second return reports whether any field is set.
func (c *Config) Credentials(source string) (Source, bool) {
	creds := c.Sources[strings.ToLower(strings.TrimSpace(source))]
	prefix := "GRAWLIX_" + envSegment(source) + "_"
	if v, ok := os.LookupEnv(prefix + "USERNAME"); ok {
		creds.Username = v
	}
	if v, ok := os.LookupEnv(prefix + "PASSWORD"); ok {
		creds.Password = v
	}
	if v, ok := os.LookupEnv(prefix + "LIBRARY"); ok {
		creds.Library = v
	}
	set := creds.Username != "" || creds.Password != "" || creds.Library != ""
	return creds, set
}

func envSegment(source string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(source)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// EnsureDirectories creates the output directory.
func (c *Config) EnsureDirectories() error {
	if strings.TrimSpace(c.Output.Directory) == "" {
		return nil
	}
	if err := os.MkdirAll(c.Output.Directory, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Output.Directory, err)
	}
	return nil
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

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
