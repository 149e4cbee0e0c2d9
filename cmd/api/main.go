package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quilldesk/chatrelay/internal/config"
	"github.com/quilldesk/chatrelay/internal/handler"
	"github.com/quilldesk/chatrelay/internal/relay"
	"github.com/quilldesk/chatrelay/internal/service/oracle"
	"github.com/quilldesk/chatrelay/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file loaded, using system environment only")
	}

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	repo, err := newRepository(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session store")
		}
	}()

	orc := newOracle(ctx, cfg.AI)

	registry := relay.NewRegistry()
	engine := relay.NewEngine(repo, orc, registry, cfg.Relay)
	router := handler.NewRouter(repo, engine)

	startServer(ctx, cfg.Server, router)
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newRepository(cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("dsn", cfg.DSN).Msg("using sqlite session store")
		return store.NewSQLiteStore(cfg.DSN)
	default:
		log.Info().Msg("using in-memory session store, sessions will not survive restarts")
		return store.NewMemoryStore(), nil
	}
}

func newOracle(ctx context.Context, cfg config.AIConfig) oracle.Oracle {
	if !cfg.Enabled() {
		log.Warn().Msg("ark credentials not configured, replies disabled")
		return oracle.Disabled{}
	}

	orc, err := oracle.NewLLMOracle(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize reply oracle, replies disabled")
		return oracle.Disabled{}
	}
	log.Info().Str("model", cfg.Model).Msg("reply oracle initialized")
	return orc
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("chat relay listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
