package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/runbroker/sandboxd/internal/executor"
	"github.com/runbroker/sandboxd/internal/policy"
	"github.com/runbroker/sandboxd/internal/server"
)

func main() {
	setupLogger()

	log.Info().Msg("starting sandboxd broker")

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}

	log.Info().Msg("sandboxd broker stopped successfully")
}

func run(ctx context.Context) error {
	cfg := server.LoadConfig()

	policyEngine, err := initPolicyEngine(cfg.PolicyDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := policyEngine.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close policy engine")
		}
	}()

	defaultCwd, err := os.Getwd()
	if err != nil {
		return err
	}
	exec := executor.New(policyEngine, defaultCwd)

	srv := server.New(cfg, exec)

	return runServer(ctx, srv)
}

func setupLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	return ctx, cancel
}

func initPolicyEngine(policyDir string) (*policy.Engine, error) {
	log.Info().Str("dir", policyDir).Msg("initializing policy engine")

	engine, err := policy.NewEngine(policyDir)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("policy engine initialized")
	return engine, nil
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
