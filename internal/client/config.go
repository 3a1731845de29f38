package client

import (
	"time"

	"github.com/danmuck/tictacd/internal/protocol/discovery"
	"github.com/danmuck/tictacd/internal/protocol/session"
)

// DiscoveryConfig controls the multicast fallback used when the server
// address is empty or unreachable.
type DiscoveryConfig struct {
	Enabled bool
	Locator discovery.LocatorConfig
}

// Config configures one client.
type Config struct {
	ServerAddr  string
	DialTimeout time.Duration
	// MaxRedials bounds reconnect attempts after a mid-match transport failure.
	MaxRedials int
	Discovery  DiscoveryConfig
	Session    session.Config
}

func DefaultConfig() Config {
	return Config{
		ServerAddr:  "127.0.0.1:8000",
		DialTimeout: 3 * time.Second,
		MaxRedials:  3,
		Discovery: DiscoveryConfig{
			Enabled: true,
			Locator: discovery.DefaultLocatorConfig(),
		},
		Session: session.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	c.Session = c.Session.WithDefaults()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.MaxRedials < 0 {
		c.MaxRedials = 0
	}
	if c.Discovery.Locator.Group == "" {
		c.Discovery.Locator.Group = def.Discovery.Locator.Group
	}
	if c.Discovery.Locator.Timeout <= 0 {
		c.Discovery.Locator.Timeout = def.Discovery.Locator.Timeout
	}
	return c
}
