package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/auth"
	"github.com/freeeve/axis-battle/api/internal/config"
	"github.com/freeeve/axis-battle/api/internal/handler"
	"github.com/freeeve/axis-battle/api/internal/logger"
	"github.com/freeeve/axis-battle/api/internal/repository"
	"github.com/freeeve/axis-battle/api/internal/repository/postgres"
	redisrepo "github.com/freeeve/axis-battle/api/internal/repository/redis"
	"github.com/freeeve/axis-battle/api/internal/repository/sqlite"
	"github.com/freeeve/axis-battle/api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Dev: cfg.DevMode})
	log.Info().Str("rules", cfg.RulesPreset).Dur("queryTimeout", cfg.QueryTimeout).Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Database migration failed")
	}

	var records repository.RecordRepository = postgres.NewRecordRepo(db)
	if cfg.SQLitePath != "" {
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("SQLite open failed")
		}
		defer store.Close()
		records = store
		log.Info().Str("path", cfg.SQLitePath).Msg("Storing battle records in SQLite")
	}

	// Redis
	redisClient, err := redisrepo.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Keyspace notifications drive query deadlines; the poller covers for them if this fails.
	if err := redisClient.EnableExpiryEvents(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (query deadlines fall back to polling)")
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	wsHub := handler.NewHub()

	// Services
	broker := service.NewQueryBroker(redisClient, wsHub, cfg.QueryTimeout)
	lockTTL := 5 * cfg.QueryTimeout
	if lockTTL < 10*time.Minute {
		lockTTL = 10 * time.Minute
	}
	battleSvc := service.NewBattleService(postgres.NewGameRepo(db), records, redisClient, broker, wsHub, service.Options{
		RulesPreset:   cfg.RulesPreset,
		DiceSeed:      cfg.DiceSeed,
		AutoPickAfter: cfg.AutoPickAfter,
		LockTTL:       lockTTL,
	})
	deadlines := service.NewQueryDeadlineListener(redisClient.Underlying(), redisClient, battleSvc)

	router := handler.NewRouter(handler.Handlers{
		Auth:   handler.NewAuthHandler(jwtMgr, cfg.DevMode),
		Battle: handler.NewBattleHandler(battleSvc),
		WS:     handler.NewWSHandler(wsHub, jwtMgr, battleSvc),
	}, jwtMgr, cfg.CORSOrigins)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Synchronous fights wait on player queries.
		WriteTimeout: cfg.QueryTimeout*4 + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Resume battles that were running when the last instance stopped.
	if err := battleSvc.RecoverActiveGames(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to recover active games (non-fatal)")
	}
	go deadlines.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	battleSvc.Shutdown()
	log.Info().Msg("Server stopped")
}
