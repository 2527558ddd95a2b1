// Package config loads, normalizes, and validates grawlix configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// GRAWLIX_<SOURCE>_PASSWORD. The Config type centralizes every knob the CLI
// needs, so output templates, download tuning, and source credentials are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
