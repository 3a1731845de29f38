package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/danmuck/tictacd/internal/admin"
	"github.com/danmuck/tictacd/internal/config"
	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/history"
	"github.com/danmuck/tictacd/internal/logging"
	"github.com/danmuck/tictacd/internal/match"
	"github.com/danmuck/tictacd/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "TOML or YAML config file (default $"+envConfigPath+" or "+defaultConfigPath+")")
	listen := flag.String("listen", "", "match listener address, overrides listen_addr")
	capacity := flag.Int("capacity", 0, "session slots, overrides capacity")
	adminAddr := flag.String("admin", "", "admin API address, or \"off\"")
	historyDSN := flag.String("history", "", "enable match history at this sqlite3 path")
	flag.Parse()

	cfg, err := loadServiceConfig(resolveConfigPath(*configPath), overrides{
		listen:   *listen,
		capacity: *capacity,
		admin:    *adminAddr,
		history:  *historyDSN,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "tictacd: %v\n", err)
		os.Exit(1)
	}
	logging.Apply(logging.Load(logging.ProfileRuntime, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("tictacd stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var strategy game.Strategy = game.FirstFree{}
	if cfg.StrategyScript != "" {
		lua, err := game.LoadLuaStrategy(cfg.StrategyScript)
		if err != nil {
			return fmt.Errorf("load strategy: %w", err)
		}
		defer lua.Close()
		strategy = lua
		log.Info().Str("script", cfg.StrategyScript).Msg("lua strategy loaded")
	}

	var observers match.Observers
	var hub *admin.Hub
	if cfg.Admin.Enabled {
		hub = admin.NewHub(admin.DefaultQueueDepth)
		observers = append(observers, hub)
	}

	var hist admin.History
	var recorder *history.Recorder
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		recorder = history.NewRecorder(store, cfg.History.QueueDepth)
		observers = append(observers, recorder)
		hist = store
		log.Info().Str("driver", store.Driver()).Msg("match history enabled")
	}

	svc, err := server.NewService(cfg.Service, strategy, observers)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.Admin.Enabled {
		api := admin.New(cfg.Admin.Config, svc, hist, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Run(ctx); err != nil {
				log.Error().Err(err).Msg("admin api failed")
				cancel()
			}
		}()
	}

	err = svc.Run(ctx)
	cancel()
	wg.Wait()
	if recorder != nil {
		recorder.Close()
		log.Info().
			Uint64("written", recorder.Written()).
			Uint64("dropped", recorder.Dropped()).
			Msg("match history flushed")
	}
	return err
}
