package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/tictacd/internal/history"
	"github.com/danmuck/tictacd/internal/server"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestTemplatesLoadInBothFormats(t *testing.T) {
	for _, name := range []string{"server.toml", "server.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		if err := WriteTemplate(path, KindServer, false); err != nil {
			t.Fatalf("%s: write template: %v", name, err)
		}
		cfg, err := LoadServer(path)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if cfg.Service.ListenAddr != ":8000" || cfg.Service.Capacity != 10 {
			t.Fatalf("%s: unexpected service config: %+v", name, cfg.Service)
		}
		if cfg.Service.Session.MaxTry != 3 || cfg.Service.Session.SessionTimeout != 10*time.Second {
			t.Fatalf("%s: unexpected session config: %+v", name, cfg.Service.Session)
		}
		if !cfg.Admin.Enabled || cfg.Admin.ListenAddr != ":8080" || len(cfg.Admin.CORSOrigins) != 1 {
			t.Fatalf("%s: unexpected admin config: %+v", name, cfg.Admin)
		}
		if cfg.History.Enabled || cfg.History.Driver != history.DriverSQLite {
			t.Fatalf("%s: unexpected history config: %+v", name, cfg.History)
		}
	}

	for _, name := range []string{"client.toml", "client.yml"} {
		path := filepath.Join(t.TempDir(), name)
		if err := WriteTemplate(path, KindClient, false); err != nil {
			t.Fatalf("%s: write template: %v", name, err)
		}
		cfg, err := LoadClient(path)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if cfg.Client.ServerAddr != "127.0.0.1:8000" || cfg.Client.MaxRedials != 3 || cfg.Auto {
			t.Fatalf("%s: unexpected client config: %+v", name, cfg)
		}
		if cfg.Client.Session.Backoff.InitialDelay != 250*time.Millisecond || cfg.Client.Session.Backoff.Multiplier != 2 {
			t.Fatalf("%s: unexpected backoff: %+v", name, cfg.Client.Session.Backoff)
		}
		if !cfg.Client.Discovery.Enabled || cfg.Client.Discovery.Locator.TTL != 1 {
			t.Fatalf("%s: unexpected discovery: %+v", name, cfg.Client.Discovery)
		}
	}
}

func TestLoadServerOverridesOnlyDefinedKeys(t *testing.T) {
	path := writeFile(t, "tictacd.toml", `
capacity = 2

[session]
session_timeout = "250ms"

[history]
enabled = true
dsn = "/tmp/h.sqlite"
`)
	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultServer()
	if cfg.Service.Capacity != 2 {
		t.Fatalf("expected capacity override, got %d", cfg.Service.Capacity)
	}
	if cfg.Service.Session.SessionTimeout != 250*time.Millisecond {
		t.Fatalf("expected session timeout override, got %s", cfg.Service.Session.SessionTimeout)
	}
	if cfg.Service.Session.MaxTry != def.Service.Session.MaxTry || cfg.Service.ListenAddr != def.Service.ListenAddr {
		t.Fatalf("expected untouched defaults, got %+v", cfg.Service)
	}
	if !cfg.History.Enabled || cfg.History.Driver != history.DriverSQLite || cfg.History.DSN != "/tmp/h.sqlite" {
		t.Fatalf("unexpected history config: %+v", cfg.History)
	}
}

func TestLoadServerYAMLFalseOverridesTrueDefault(t *testing.T) {
	path := writeFile(t, "tictacd.yaml", "discovery:\n  enabled: false\nadmin:\n  enabled: false\n")
	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.Discovery.Enabled || cfg.Admin.Enabled {
		t.Fatalf("expected explicit false to win: %+v %+v", cfg.Service.Discovery, cfg.Admin)
	}
}

func TestLoadServerRejects(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
		is   error
	}{
		{"zero capacity", "a.toml", "capacity = 0\n", server.ErrInvalidCapacity},
		{"huge capacity", "b.yaml", "capacity: 300\n", server.ErrInvalidCapacity},
		{"bad driver", "c.toml", "[history]\nenabled = true\ndriver = \"mysql\"\n", history.ErrUnsupportedDriver},
		{"bad duration", "d.toml", "heartbeat_interval = \"soon\"\n", nil},
		{"unknown toml key", "e.toml", "listen = \":1\"\n", nil},
		{"unknown yaml key", "f.yaml", "listen: \":1\"\n", nil},
		{"bad max try", "g.toml", "[session]\nmax_try = 0\n", nil},
		{"extension", "h.json", "{}", ErrUnknownFormat},
	}
	for _, tc := range cases {
		path := writeFile(t, tc.file, tc.body)
		_, err := LoadServer(path)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if tc.is != nil && !errors.Is(err, tc.is) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.is, err)
		}
	}
}

func TestLoadClientDiscoveryOnly(t *testing.T) {
	path := writeFile(t, "tictac.toml", `
server_addr = ""
auto = true

[discovery]
group = "239.0.0.9:6000"
timeout = "1s"
`)
	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Client.ServerAddr != "" || !cfg.Auto {
		t.Fatalf("unexpected client config: %+v", cfg)
	}
	if cfg.Client.Discovery.Locator.Group != "239.0.0.9:6000" || cfg.Client.Discovery.Locator.Timeout != time.Second {
		t.Fatalf("unexpected locator: %+v", cfg.Client.Discovery.Locator)
	}

	path = writeFile(t, "tictac.toml", "server_addr = \"\"\n[discovery]\nenabled = false\n")
	if _, err := LoadClient(path); err == nil {
		t.Fatalf("expected error without address or discovery")
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := writeFile(t, "server.toml", "capacity = 1\n")
	if err := WriteTemplate(path, KindServer, false); err == nil {
		t.Fatalf("expected existing file to be kept")
	}
	if err := WriteTemplate(path, KindServer, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := Validate(path, KindServer); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := Validate(path, "robot"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := Template("robot", FormatTOML); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestKeysIsDefined(t *testing.T) {
	keys := Keys{"session": {}, "session.max_try": {}}
	if !keys.IsDefined("session", "max_try") || !keys.IsDefined("session.max_try") {
		t.Fatalf("expected nested key to be defined")
	}
	if keys.IsDefined("session", "backoff") {
		t.Fatalf("unexpected key")
	}
}
