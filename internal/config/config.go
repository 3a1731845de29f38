package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tictacd/internal/protocol/session"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

var ErrUnknownFormat = errors.New("config: unknown file format")

// FormatOf picks the decoder from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".tml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Keys is the set of dotted keys present in a decoded file.
type Keys map[string]struct{}

func (k Keys) IsDefined(key ...string) bool {
	_, ok := k[strings.Join(key, ".")]
	return ok
}

// Decode reads path into out and reports which keys the file set, so
// callers only override defaults the operator actually wrote.
func Decode(path string, out any) (Keys, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatTOML:
		meta, err := toml.DecodeFile(path, out)
		if err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
		}
		keys := make(Keys)
		for _, k := range meta.Keys() {
			keys[k.String()] = struct{}{}
		}
		return keys, nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		keys := make(Keys)
		collectKeys(keys, "", tree)
		return keys, nil
	}
}

func collectKeys(keys Keys, prefix string, tree map[string]any) {
	for name, v := range tree {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		keys[key] = struct{}{}
		if sub, ok := v.(map[string]any); ok {
			collectKeys(keys, key, sub)
		}
	}
}

func setDuration(keys Keys, key, raw string, dst *time.Duration) error {
	if !keys.IsDefined(key) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	*dst = d
	return nil
}

func setString(keys Keys, key, raw string, dst *string) {
	if keys.IsDefined(key) {
		*dst = strings.TrimSpace(raw)
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func applySession(keys Keys, raw sessionFile, cfg *session.Config) error {
	if keys.IsDefined("session", "max_try") {
		if raw.MaxTry <= 0 {
			return fmt.Errorf("session.max_try must be positive, got %d", raw.MaxTry)
		}
		cfg.MaxTry = raw.MaxTry
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"session.session_timeout", raw.SessionTimeout, &cfg.SessionTimeout},
		{"session.sweep_interval", raw.SweepInterval, &cfg.SweepInterval},
		{"session.reply_timeout", raw.ReplyTimeout, &cfg.ReplyTimeout},
		{"session.write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"session.backoff.initial_delay", raw.Backoff.InitialDelay, &cfg.Backoff.InitialDelay},
		{"session.backoff.max_delay", raw.Backoff.MaxDelay, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if err := setDuration(keys, d.key, d.raw, d.dst); err != nil {
			return err
		}
	}
	if keys.IsDefined("session", "backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if keys.IsDefined("session", "backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}
	return nil
}
