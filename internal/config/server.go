package config

import (
	"fmt"
	"strings"

	"github.com/danmuck/tictacd/internal/admin"
	"github.com/danmuck/tictacd/internal/history"
	"github.com/danmuck/tictacd/internal/server"
)

type sessionFile struct {
	MaxTry         int    `toml:"max_try" yaml:"max_try"`
	SessionTimeout string `toml:"session_timeout" yaml:"session_timeout"`
	SweepInterval  string `toml:"sweep_interval" yaml:"sweep_interval"`
	ReplyTimeout   string `toml:"reply_timeout" yaml:"reply_timeout"`
	WriteTimeout   string `toml:"write_timeout" yaml:"write_timeout"`
	Backoff        struct {
		InitialDelay string  `toml:"initial_delay" yaml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier" yaml:"multiplier"`
		MaxDelay     string  `toml:"max_delay" yaml:"max_delay"`
		Jitter       bool    `toml:"jitter" yaml:"jitter"`
	} `toml:"backoff" yaml:"backoff"`
}

type serverFile struct {
	ListenAddr        string      `toml:"listen_addr" yaml:"listen_addr"`
	Capacity          int         `toml:"capacity" yaml:"capacity"`
	HeartbeatInterval string      `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	StrategyScript    string      `toml:"strategy_script" yaml:"strategy_script"`
	Session           sessionFile `toml:"session" yaml:"session"`
	Discovery         struct {
		Enabled       bool   `toml:"enabled" yaml:"enabled"`
		Group         string `toml:"group" yaml:"group"`
		Interface     string `toml:"interface" yaml:"interface"`
		AdvertisePort uint16 `toml:"advertise_port" yaml:"advertise_port"`
	} `toml:"discovery" yaml:"discovery"`
	Admin struct {
		Enabled     bool     `toml:"enabled" yaml:"enabled"`
		ListenAddr  string   `toml:"listen_addr" yaml:"listen_addr"`
		CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	} `toml:"admin" yaml:"admin"`
	History struct {
		Enabled    bool   `toml:"enabled" yaml:"enabled"`
		Driver     string `toml:"driver" yaml:"driver"`
		DSN        string `toml:"dsn" yaml:"dsn"`
		QueueDepth int    `toml:"queue_depth" yaml:"queue_depth"`
	} `toml:"history" yaml:"history"`
	Log struct {
		Level string `toml:"level" yaml:"level"`
	} `toml:"log" yaml:"log"`
}

type AdminConfig struct {
	Enabled bool
	admin.Config
}

type HistoryConfig struct {
	Enabled    bool
	Driver     string
	DSN        string
	QueueDepth int
}

// Server is everything tictacd reads from its config file.
type Server struct {
	Service server.ServiceConfig
	// StrategyScript is a Lua file exposing choose_move; empty plays the first free cell.
	StrategyScript string
	Admin          AdminConfig
	History        HistoryConfig
	LogLevel       string
}

func DefaultServer() Server {
	return Server{
		Service: server.DefaultServiceConfig(),
		Admin: AdminConfig{
			Enabled: true,
			Config:  admin.DefaultConfig(),
		},
		History: HistoryConfig{
			Driver:     history.DriverSQLite,
			DSN:        "storage/history.sqlite",
			QueueDepth: history.DefaultQueueDepth,
		},
		LogLevel: "info",
	}
}

// LoadServer overlays the keys set in path on DefaultServer and validates
// the result.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	var raw serverFile
	keys, err := Decode(path, &raw)
	if err != nil {
		return Server{}, err
	}

	setString(keys, "listen_addr", raw.ListenAddr, &cfg.Service.ListenAddr)
	if keys.IsDefined("capacity") {
		cfg.Service.Capacity = raw.Capacity
	}
	if err := setDuration(keys, "heartbeat_interval", raw.HeartbeatInterval, &cfg.Service.HeartbeatInterval); err != nil {
		return Server{}, err
	}
	setString(keys, "strategy_script", raw.StrategyScript, &cfg.StrategyScript)
	if err := applySession(keys, raw.Session, &cfg.Service.Session); err != nil {
		return Server{}, err
	}

	if keys.IsDefined("discovery", "enabled") {
		cfg.Service.Discovery.Enabled = raw.Discovery.Enabled
	}
	setString(keys, "discovery.group", raw.Discovery.Group, &cfg.Service.Discovery.Group)
	setString(keys, "discovery.interface", raw.Discovery.Interface, &cfg.Service.Discovery.Interface)
	if keys.IsDefined("discovery", "advertise_port") {
		cfg.Service.Discovery.AdvertisePort = raw.Discovery.AdvertisePort
	}

	if keys.IsDefined("admin", "enabled") {
		cfg.Admin.Enabled = raw.Admin.Enabled
	}
	setString(keys, "admin.listen_addr", raw.Admin.ListenAddr, &cfg.Admin.ListenAddr)
	if keys.IsDefined("admin", "cors_origins") {
		cfg.Admin.CORSOrigins = normalizeList(raw.Admin.CORSOrigins)
	}

	if keys.IsDefined("history", "enabled") {
		cfg.History.Enabled = raw.History.Enabled
	}
	setString(keys, "history.driver", raw.History.Driver, &cfg.History.Driver)
	setString(keys, "history.dsn", raw.History.DSN, &cfg.History.DSN)
	if keys.IsDefined("history", "queue_depth") {
		cfg.History.QueueDepth = raw.History.QueueDepth
	}

	setString(keys, "log.level", raw.Log.Level, &cfg.LogLevel)

	if err := ValidateServer(cfg); err != nil {
		return Server{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func ValidateServer(cfg Server) error {
	if err := cfg.Service.Validate(); err != nil {
		return err
	}
	if cfg.Service.Discovery.Enabled && strings.TrimSpace(cfg.Service.Discovery.Group) == "" {
		return fmt.Errorf("discovery enabled without group")
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.ListenAddr) == "" {
		return fmt.Errorf("admin enabled without listen_addr")
	}
	if cfg.History.Enabled {
		switch cfg.History.Driver {
		case history.DriverSQLite, history.DriverPostgres:
		default:
			return fmt.Errorf("%w: %q", history.ErrUnsupportedDriver, cfg.History.Driver)
		}
		if strings.TrimSpace(cfg.History.DSN) == "" {
			return fmt.Errorf("history enabled without dsn")
		}
	}
	return nil
}
