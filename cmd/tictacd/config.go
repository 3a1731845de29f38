package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/tictacd/internal/config"
	"github.com/danmuck/tictacd/internal/history"
)

const (
	envConfigPath     = "TICTACD_CONFIG"
	defaultConfigPath = "cmd/tictacd/config.toml"
)

// overrides are command-line values that win over the config file.
type overrides struct {
	listen   string
	capacity int
	admin    string
	history  string
}

// resolveConfigPath prefers the flag, then the environment, then the
// default path when a file exists there. An empty result means built-in
// defaults.
func resolveConfigPath(flagPath string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func loadServiceConfig(path string, o overrides) (config.Server, error) {
	cfg := config.DefaultServer()
	if path != "" {
		loaded, err := config.LoadServer(path)
		if err != nil {
			return config.Server{}, fmt.Errorf("load tictacd config: %w", err)
		}
		cfg = loaded
	}

	if o.listen != "" {
		cfg.Service.ListenAddr = o.listen
	}
	if o.capacity != 0 {
		cfg.Service.Capacity = o.capacity
	}
	switch o.admin {
	case "":
	case "off":
		cfg.Admin.Enabled = false
	default:
		cfg.Admin.Enabled = true
		cfg.Admin.ListenAddr = o.admin
	}
	if o.history != "" {
		cfg.History.Enabled = true
		cfg.History.Driver = history.DriverSQLite
		cfg.History.DSN = o.history
	}

	if err := config.ValidateServer(cfg); err != nil {
		return config.Server{}, fmt.Errorf("tictacd config invalid: %w", err)
	}
	return cfg, nil
}
