package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "server"
	KindClient = "client"
)

// Template returns the starter file for kind in format.
func Template(kind string, format Format) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		if format == FormatYAML {
			return serverYAMLTemplate, nil
		}
		return serverTemplate, nil
	case KindClient:
		if format == FormatYAML {
			return clientYAMLTemplate, nil
		}
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// WriteTemplate writes the template for kind to path, in the format its
// extension names.
func WriteTemplate(path, kind string, overwrite bool) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	template, err := Template(kind, format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServer(path)
		return err
	case KindClient:
		_, err := LoadClient(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `listen_addr = ":8000"
capacity = 10
heartbeat_interval = "30s"
# Lua file exposing choose_move(cells); empty plays the first free cell.
strategy_script = ""

[session]
max_try = 3
session_timeout = "10s"
sweep_interval = "1s"
write_timeout = "5s"

[discovery]
enabled = true
group = "239.0.0.1:5050"
interface = ""
advertise_port = 0

[admin]
enabled = true
listen_addr = ":8080"
cors_origins = ["http://localhost:3000"]

[history]
enabled = false
driver = "sqlite3"
dsn = "storage/history.sqlite"
queue_depth = 64

[log]
level = "info"
`

const serverYAMLTemplate = `listen_addr: ":8000"
capacity: 10
heartbeat_interval: 30s
strategy_script: ""

session:
  max_try: 3
  session_timeout: 10s
  sweep_interval: 1s
  write_timeout: 5s

discovery:
  enabled: true
  group: "239.0.0.1:5050"
  interface: ""
  advertise_port: 0

admin:
  enabled: true
  listen_addr: ":8080"
  cors_origins:
    - http://localhost:3000

history:
  enabled: false
  driver: sqlite3
  dsn: storage/history.sqlite
  queue_depth: 64

log:
  level: info
`

const clientTemplate = `server_addr = "127.0.0.1:8000"
dial_timeout = "3s"
max_redials = 3
auto = false
strategy_script = ""

[session]
max_try = 3
reply_timeout = "10s"
write_timeout = "5s"

[session.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true

[discovery]
enabled = true
group = "239.0.0.1:5050"
timeout = "3s"
ttl = 1
loopback = true
interface = ""

[log]
level = "warn"
`

const clientYAMLTemplate = `server_addr: "127.0.0.1:8000"
dial_timeout: 3s
max_redials: 3
auto: false
strategy_script: ""

session:
  max_try: 3
  reply_timeout: 10s
  write_timeout: 5s
  backoff:
    initial_delay: 250ms
    multiplier: 2.0
    max_delay: 5s
    jitter: true

discovery:
  enabled: true
  group: "239.0.0.1:5050"
  timeout: 3s
  ttl: 1
  loopback: true
  interface: ""

log:
  level: warn
`
