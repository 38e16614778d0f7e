package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sentra-project/sentra/internal/api"
	"github.com/sentra-project/sentra/internal/core"
	"github.com/sentra-project/sentra/internal/store"
)

func newLogger(cfg *core.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}
	return logger
}

func openStore(cfg *core.Config, logger zerolog.Logger) (core.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		logger.Warn().Msg("using in-memory store — events do not survive restarts")
		return store.NewMemory(), nil
	case "badger":
		return store.NewBadger(cfg.Store.DataDir, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("c", "", "path to config file")
	_ = fs.Parse(args)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	var bus *core.EventBus
	if cfg.Bus.Enabled {
		bus, err = core.NewEventBus(&cfg.Bus, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start event bus")
		}
		defer bus.Close()
	}

	directory := core.NewStaticDirectory(cfg.Directory.Roles)

	svc, err := core.NewService(cfg, st, directory, core.ContextClientProvider{}, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create audit service")
	}
	svc.Start()

	server := api.NewServer(svc, cfg, logger)
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start API server")
	}

	logger.Info().Str("version", version).Msg("sentra is up")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}
	svc.Stop()
}

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("c", "", "path to config file")
	_ = fs.Parse(args)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}
