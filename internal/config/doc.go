// Package config loads, validates, and defaults the TOML configuration
// consumed by the daemon and CLI.
package config
