package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/danmuck/tictacd/internal/client"
)

type clientFile struct {
	ServerAddr     string      `toml:"server_addr" yaml:"server_addr"`
	DialTimeout    string      `toml:"dial_timeout" yaml:"dial_timeout"`
	MaxRedials     int         `toml:"max_redials" yaml:"max_redials"`
	Auto           bool        `toml:"auto" yaml:"auto"`
	StrategyScript string      `toml:"strategy_script" yaml:"strategy_script"`
	Session        sessionFile `toml:"session" yaml:"session"`
	Discovery      struct {
		Enabled   bool   `toml:"enabled" yaml:"enabled"`
		Group     string `toml:"group" yaml:"group"`
		Timeout   string `toml:"timeout" yaml:"timeout"`
		TTL       int    `toml:"ttl" yaml:"ttl"`
		Loopback  bool   `toml:"loopback" yaml:"loopback"`
		Interface string `toml:"interface" yaml:"interface"`
	} `toml:"discovery" yaml:"discovery"`
	Log struct {
		Level string `toml:"level" yaml:"level"`
	} `toml:"log" yaml:"log"`
}

// Client is everything tictac reads from its config file.
type Client struct {
	Client client.Config
	// Auto plays from the strategy instead of standard input.
	Auto           bool
	StrategyScript string
	LogLevel       string
}

func DefaultClient() Client {
	return Client{
		Client:   client.DefaultConfig(),
		LogLevel: "warn",
	}
}

func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	var raw clientFile
	keys, err := Decode(path, &raw)
	if err != nil {
		return Client{}, err
	}

	setString(keys, "server_addr", raw.ServerAddr, &cfg.Client.ServerAddr)
	if err := setDuration(keys, "dial_timeout", raw.DialTimeout, &cfg.Client.DialTimeout); err != nil {
		return Client{}, err
	}
	if keys.IsDefined("max_redials") {
		cfg.Client.MaxRedials = raw.MaxRedials
	}
	if keys.IsDefined("auto") {
		cfg.Auto = raw.Auto
	}
	setString(keys, "strategy_script", raw.StrategyScript, &cfg.StrategyScript)
	if err := applySession(keys, raw.Session, &cfg.Client.Session); err != nil {
		return Client{}, err
	}

	locator := &cfg.Client.Discovery.Locator
	if keys.IsDefined("discovery", "enabled") {
		cfg.Client.Discovery.Enabled = raw.Discovery.Enabled
	}
	setString(keys, "discovery.group", raw.Discovery.Group, &locator.Group)
	if err := setDuration(keys, "discovery.timeout", raw.Discovery.Timeout, &locator.Timeout); err != nil {
		return Client{}, err
	}
	if keys.IsDefined("discovery", "ttl") {
		locator.TTL = raw.Discovery.TTL
	}
	if keys.IsDefined("discovery", "loopback") {
		locator.Loopback = raw.Discovery.Loopback
	}
	if name := strings.TrimSpace(raw.Discovery.Interface); keys.IsDefined("discovery", "interface") && name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return Client{}, fmt.Errorf("discovery.interface %q: %w", name, err)
		}
		locator.Interface = ifi
	}

	setString(keys, "log.level", raw.Log.Level, &cfg.LogLevel)

	if err := ValidateClient(cfg); err != nil {
		return Client{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func ValidateClient(cfg Client) error {
	c := cfg.Client
	if strings.TrimSpace(c.ServerAddr) == "" && !c.Discovery.Enabled {
		return fmt.Errorf("server_addr required when discovery is disabled")
	}
	if c.MaxRedials < 0 {
		return fmt.Errorf("max_redials must not be negative, got %d", c.MaxRedials)
	}
	if c.Discovery.Enabled && strings.TrimSpace(c.Discovery.Locator.Group) == "" {
		return fmt.Errorf("discovery enabled without group")
	}
	if c.Discovery.Locator.TTL < 0 || c.Discovery.Locator.TTL > 255 {
		return fmt.Errorf("discovery.ttl out of range: %d", c.Discovery.Locator.TTL)
	}
	return nil
}
