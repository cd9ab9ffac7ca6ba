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

	"atelier/internal/adapter/repo"
	"atelier/internal/http/handlers"
	"atelier/internal/http/httpapi"
	"atelier/internal/infra"
	"atelier/internal/ledger"
	"atelier/internal/lifecycle"
	"atelier/internal/progress"
	"atelier/internal/tenantguard"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: database connection failed")
	}
	defer pool.Close()

	var broker progress.Broker
	redisClient, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis connection failed")
	}
	if redisClient != nil {
		defer redisClient.Close()
		broker = progress.NewRedisBroker(redisClient)
	} else {
		logger.Warn().Msg("api: no redis configured, live progress streaming disabled")
	}

	generations := repo.NewGenerationRepository(pool)
	boards := repo.NewBoardRepository(pool)
	users := repo.NewUserRepository(pool)
	tenants := repo.NewTenantRepository(pool)
	credits := repo.NewCreditRepository(pool)
	snapshots := repo.NewProgressRepository(pool)
	isolation := repo.NewIsolationRepository(pool)

	led := ledger.New(credits, cfg.CreditFloor, logger)
	guard := tenantguard.New(isolation, cfg.TenantMode)
	publisher := progress.NewPublisher(broker, snapshots, logger)
	svc := lifecycle.NewService(generations, boards, led, guard, publisher, logger)

	app := &handlers.App{
		Lifecycle: svc,
		Ledger:    led,
		Progress:  publisher,
		Boards:    boards,
		Users:     users,
		Tenants:   tenants,
		Guard:     guard,
		Pool:      pool,
		Logger:    logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		TenantMode:      cfg.TenantMode,
		DefaultTenantID: cfg.DefaultTenantID,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("tenant_mode", string(cfg.TenantMode)).Msg("api: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
