package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/tictacd/internal/config"
)

const (
	envConfigPath     = "TICTAC_CONFIG"
	defaultConfigPath = "cmd/tictac/config.toml"
)

type overrides struct {
	server string
	auto   bool
	script string
}

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

func loadClientConfig(path string, o overrides) (config.Client, error) {
	cfg := config.DefaultClient()
	if path != "" {
		loaded, err := config.LoadClient(path)
		if err != nil {
			return config.Client{}, fmt.Errorf("load tictac config: %w", err)
		}
		cfg = loaded
	}
	if o.server != "" {
		cfg.Client.ServerAddr = o.server
	}
	if o.auto {
		cfg.Auto = true
	}
	if o.script != "" {
		cfg.StrategyScript = o.script
		cfg.Auto = true
	}
	if err := config.ValidateClient(cfg); err != nil {
		return config.Client{}, fmt.Errorf("tictac config invalid: %w", err)
	}
	return cfg, nil
}
