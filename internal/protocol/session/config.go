package session

import "time"

// BackoffConfig defines re-dial backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session reliability defaults.
type Config struct {
	// MaxTry caps consecutive duplicate or timeout events per session.
	MaxTry int
	// SessionTimeout is the idle window before the last frame is resent or the session evicted.
	SessionTimeout time.Duration
	// SweepInterval bounds how long the server loop blocks between idle sweeps.
	SweepInterval time.Duration
	ReplyTimeout  time.Duration
	WriteTimeout  time.Duration
	Backoff       BackoffConfig
}

// DefaultConfig mirrors the limits of the reference protocol: three tries and a ten second window.
func DefaultConfig() Config {
	return Config{
		MaxTry:         3,
		SessionTimeout: 10 * time.Second,
		SweepInterval:  time.Second,
		ReplyTimeout:   10 * time.Second,
		WriteTimeout:   5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxTry <= 0 {
		c.MaxTry = def.MaxTry
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = def.ReplyTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
