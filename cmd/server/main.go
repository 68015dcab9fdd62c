package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/athleterace/backend/internal/config"
	"github.com/athleterace/backend/internal/game"
	"github.com/athleterace/backend/internal/gateway"
	"github.com/athleterace/backend/internal/resolver"
	"github.com/athleterace/backend/internal/sports"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	catalog, err := sports.Default()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load sport catalog")
	}

	wikidataCfg := resolver.DefaultWikidataConfig()
	wikidataCfg.Timeout = cfg.ResolverTimeout()
	athleteResolver := resolver.NewWikidata(wikidataCfg)

	clock := clockwork.NewRealClock()

	connConfig := gateway.DefaultConnectionConfig()
	manager := gateway.NewConnectionManager(connConfig)

	registry := game.NewRegistry(clock, manager, athleteResolver, catalog, game.Options{
		Duration:        cfg.GameDuration(),
		Goal:            cfg.Goal,
		ReconnectGrace:  cfg.ReconnectGrace(),
		ResolverTimeout: cfg.ResolverTimeout(),
	}, cfg.SessionRetention())
	defer registry.Close()

	service := &gateway.Service{
		Manager: manager,
		Handler: gateway.NewHandler(manager, registry, clock),
		API:     gateway.NewAPI(registry, catalog, cfg.AdminPassword),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	service.RegisterRoutes(router)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     corsMiddleware.Handler(router),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start broadcast fan-out
	go service.Start(ctx)

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Int("goal", cfg.Goal).
			Dur("game_duration", cfg.GameDuration()).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	registry.Close()

	log.Info().Msg("server shutdown complete")
}
