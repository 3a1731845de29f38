package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/tictacd/internal/match"
	"github.com/danmuck/tictacd/internal/protocol/discovery"
	"github.com/danmuck/tictacd/internal/protocol/session"
)

var (
	ErrInvalidCapacity = errors.New("server: invalid capacity")
	ErrListenAddr      = errors.New("server: listen address required")
)

// DiscoveryConfig configures the multicast locate responder.
type DiscoveryConfig struct {
	Enabled   bool
	Group     string
	Interface string
	// AdvertisePort overrides the port sent to locating clients.
	AdvertisePort uint16
}

// ServiceConfig configures the match server.
type ServiceConfig struct {
	ListenAddr        string
	Capacity          int
	HeartbeatInterval time.Duration
	Discovery         DiscoveryConfig
	Session           session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:        ":8000",
		Capacity:          match.DefaultCapacity,
		HeartbeatInterval: 30 * time.Second,
		Discovery: DiscoveryConfig{
			Enabled: true,
			Group:   discovery.DefaultGroup,
		},
		Session: session.DefaultConfig(),
	}
}

// Validate checks the fields a running server depends on.
func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrListenAddr
	}
	if c.Capacity <= 0 || c.Capacity > match.MaxCapacity {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.Capacity)
	}
	return nil
}
