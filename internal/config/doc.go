// Package config loads tictacd and tictac settings from TOML or YAML files.
// Only keys present in a file override the built-in defaults.
package config
