// Command focusclass runs the teacher-side session server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"focusclass/internal/config"
	"focusclass/internal/discovery"
	"focusclass/internal/session"
	"focusclass/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("focusclass failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	var adv discovery.Advertiser = discovery.Nop{}
	if cfg.DiscoveryPort > 0 {
		adv = discovery.NewBeacon(cfg.DiscoveryPort, cfg.DiscoveryInterval)
	}

	lc := session.NewLifecycle(cfg, st, nil, adv)

	info, err := lc.Start(context.Background())
	if err != nil {
		return err
	}
	log.Info().
		Str("code", info.Code).
		Str("password", info.Password).
		Str("addr", info.TeacherAddr).
		Int("ws_port", info.WebSocketPort).
		Int("http_port", info.HTTPPort).
		Msg("session ready, students can join")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	lc.End(ctx)
	return nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
