package config

// Default returns the built-in configuration. Every value here is safe on
// a machine with no config file at all.
func Default() Config {
	return Config{
		Output: Output{
			Directory: "~/Books",
			Template:  "{title}",
		},
		Download: Download{
			Concurrency:    4,
			RetryAttempts:  3,
			RetryBaseMS:    500,
			RetryMaxMS:     8000,
			TimeoutSeconds: 300,
			UserAgent:      "grawlix",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Sources: map[string]Source{},
	}
}
