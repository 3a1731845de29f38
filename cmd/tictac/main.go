package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tictacd/internal/client"
	"github.com/danmuck/tictacd/internal/config"
	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/logging"
	"github.com/danmuck/tictacd/internal/protocol/frame"
)

func main() {
	configPath := flag.String("config", "", "TOML or YAML config file (default $"+envConfigPath+" or "+defaultConfigPath+")")
	serverAddr := flag.String("server", "", "server address, overrides server_addr")
	auto := flag.Bool("auto", false, "play automatically instead of reading moves from stdin")
	script := flag.String("strategy", "", "Lua strategy script for automatic play")
	flag.Parse()

	cfg, err := loadClientConfig(resolveConfigPath(*configPath), overrides{
		server: *serverAddr,
		auto:   *auto,
		script: *script,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "tictac: %v\n", err)
		os.Exit(1)
	}
	logging.Apply(logging.Load(logging.ProfileRuntime, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, cfg, os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

// run plays one match and returns the process exit code.
func run(ctx context.Context, cfg config.Client, in io.Reader, out io.Writer) int {
	moves, closeMoves, err := moveSource(cfg, in, out)
	if err != nil {
		fmt.Fprintf(out, "tictac: %v\n", err)
		return 1
	}
	defer closeMoves()

	display := func(b game.Board, _ game.Mark) {
		fmt.Fprintln(out)
		_ = game.Render(out, b)
	}

	outcome, err := client.New(cfg.Client, moves, display).Play(ctx)
	switch {
	case errors.Is(err, client.ErrCannotEstablish):
		fmt.Fprintln(out, "Unable to establish a session with the server.")
		return 2
	case errors.Is(err, client.ErrSessionFault):
		fmt.Fprintf(out, "Session ended with an error: %v\n", err)
		return 3
	case err != nil:
		fmt.Fprintf(out, "tictac: %v\n", err)
		return 1
	}

	switch outcome.Result {
	case frame.ResultWin:
		fmt.Fprintln(out, "You win!")
	case frame.ResultLose:
		fmt.Fprintln(out, "You lose.")
	default:
		fmt.Fprintln(out, "Draw.")
	}
	return 0
}

func moveSource(cfg config.Client, in io.Reader, out io.Writer) (client.MoveSource, func(), error) {
	if !cfg.Auto {
		return client.NewLineSource(in, out), func() {}, nil
	}
	if cfg.StrategyScript == "" {
		return client.StrategySource{Strategy: game.FirstFree{}}, func() {}, nil
	}
	lua, err := game.LoadLuaStrategy(cfg.StrategyScript)
	if err != nil {
		return nil, nil, err
	}
	return client.StrategySource{Strategy: lua}, lua.Close, nil
}
