package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tictacd/internal/config"
	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/server"
	"github.com/danmuck/tictacd/internal/testutil/testlog"
)

func startServer(t *testing.T) string {
	t.Helper()
	cfg := server.DefaultServiceConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Discovery.Enabled = false
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc, err := server.NewService(cfg, game.FirstFree{}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Serve(ctx, ln, nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func clientConfig(t *testing.T, addr string, o overrides) config.Client {
	t.Helper()
	o.server = addr
	cfg, err := loadClientConfig("", o)
	if err != nil {
		t.Fatalf("load client config: %v", err)
	}
	cfg.Client.Discovery.Enabled = false
	cfg.Client.Session.ReplyTimeout = 2 * time.Second
	return cfg
}

func TestRunAutoWins(t *testing.T) {
	testlog.Start(t)
	cfg := clientConfig(t, startServer(t), overrides{auto: true})

	var out bytes.Buffer
	if code := run(context.Background(), cfg, strings.NewReader(""), &out); code != 0 {
		t.Fatalf("unexpected exit code %d output=%s", code, out.String())
	}
	if !strings.Contains(out.String(), "You win!") {
		t.Fatalf("expected a win, output=%s", out.String())
	}
	if !strings.Contains(out.String(), "---+---+---") {
		t.Fatalf("expected rendered boards, output=%s", out.String())
	}
}

func TestRunInteractiveLoses(t *testing.T) {
	testlog.Start(t)
	cfg := clientConfig(t, startServer(t), overrides{})

	// O answers 1 2 3 with the first free cell.
	var out bytes.Buffer
	in := strings.NewReader("5\nx\n9\n7\n")
	if code := run(context.Background(), cfg, in, &out); code != 0 {
		t.Fatalf("unexpected exit code %d output=%s", code, out.String())
	}
	if !strings.Contains(out.String(), "invalid move") || !strings.Contains(out.String(), "You lose.") {
		t.Fatalf("unexpected output=%s", out.String())
	}
}

func TestRunWithoutServer(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := clientConfig(t, addr, overrides{auto: true})
	cfg.Client.Session.MaxTry = 1
	cfg.Client.Session.Backoff.InitialDelay = 5 * time.Millisecond
	cfg.Client.Session.Backoff.Jitter = false

	var out bytes.Buffer
	if code := run(context.Background(), cfg, strings.NewReader(""), &out); code != 2 {
		t.Fatalf("expected exit code 2, got %d output=%s", code, out.String())
	}
}

func TestLoadClientConfigOverrides(t *testing.T) {
	cfg, err := loadClientConfig("ex.config.toml", overrides{})
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if !cfg.Auto || cfg.Client.ServerAddr != "127.0.0.1:8000" {
		t.Fatalf("unexpected example config: %+v", cfg)
	}

	cfg, err = loadClientConfig("", overrides{server: "10.0.0.1:8000", script: "bot.lua"})
	if err != nil {
		t.Fatalf("load with overrides: %v", err)
	}
	if cfg.Client.ServerAddr != "10.0.0.1:8000" || !cfg.Auto || cfg.StrategyScript != "bot.lua" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestMoveSourceLoadsScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.lua")
	if err := os.WriteFile(path, []byte("function choose_move(cells) return 9 end\n"), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := config.DefaultClient()
	cfg.Auto = true
	cfg.StrategyScript = path

	moves, closeMoves, err := moveSource(cfg, nil, nil)
	if err != nil {
		t.Fatalf("move source: %v", err)
	}
	defer closeMoves()
	got, err := moves.NextMove(context.Background(), game.Board{})
	if err != nil || got != 9 {
		t.Fatalf("expected scripted move 9, got %d err=%v", got, err)
	}

	cfg.StrategyScript = filepath.Join(t.TempDir(), "missing.lua")
	if _, _, err := moveSource(cfg, nil, nil); err == nil {
		t.Fatalf("expected missing script error")
	}
}
