package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"atelier/internal/adapter/repo"
	"atelier/internal/domain"
	"atelier/internal/infra"
	"atelier/internal/ledger"
	"atelier/internal/lifecycle"
	"atelier/internal/progress"
	"atelier/internal/providers"
	"atelier/internal/storage"
	"atelier/internal/tenantguard"
)

type worker struct {
	svc          *lifecycle.Service
	manager      *storage.Manager
	registry     *providers.Registry
	logger       zerolog.Logger
	pollInterval time.Duration
	slots        chan struct{}
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: database connection failed")
	}
	defer pool.Close()

	var broker progress.Broker
	redisClient, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	if redisClient != nil {
		defer redisClient.Close()
		broker = progress.NewRedisBroker(redisClient)
	}

	generations := repo.NewGenerationRepository(pool)
	boards := repo.NewBoardRepository(pool)
	credits := repo.NewCreditRepository(pool)
	snapshots := repo.NewProgressRepository(pool)
	isolation := repo.NewIsolationRepository(pool)

	led := ledger.New(credits, cfg.CreditFloor, logger)
	guard := tenantguard.New(isolation, cfg.TenantMode)
	publisher := progress.NewPublisher(broker, snapshots, logger)
	svc := lifecycle.NewService(generations, boards, led, guard, publisher, logger)

	manager, err := newStorageManager(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage configuration failed")
	}

	registry := providers.NewRegistry()
	if err := registry.Register(providers.NewSynthetic()); err != nil {
		logger.Fatal().Err(err).Msg("worker: provider registration failed")
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	w := &worker{
		svc:          svc,
		manager:      manager,
		registry:     registry,
		logger:       logger,
		pollInterval: cfg.WorkerPollInterval,
		slots:        make(chan struct{}, concurrency),
	}

	go w.reap(ctx, cfg.ProcessingDeadline, cfg.ReaperInterval)

	logger.Info().
		Int("concurrency", concurrency).
		Strs("providers", registry.Names()).
		Msg("worker: started")
	w.run(ctx)
	logger.Info().Msg("worker: stopped")
}

func newStorageManager(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*storage.Manager, error) {
	local, err := storage.NewLocalStore(cfg.LocalStorageDir, cfg.StorageBaseURL)
	if err != nil {
		return nil, err
	}
	stores := []storage.Provider{local}

	if cfg.S3Bucket != "" {
		s3store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			AccessKeyID:   cfg.S3AccessKeyID,
			SecretKey:     cfg.S3SecretAccessKey,
			Endpoint:      cfg.S3Endpoint,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		stores = append(stores, s3store)
	}
	if cfg.GCSBucket != "" {
		gcsStore, err := storage.NewGCSStore(ctx, cfg.GCSBucket, logger)
		if err != nil {
			return nil, err
		}
		stores = append(stores, gcsStore)
	}

	var rules []storage.RoutingRule
	if cfg.VideoProvider != "" {
		rules = append(rules, storage.RoutingRule{
			Name:         "videos",
			ArtifactType: domain.ArtifactTypeVideo,
			Provider:     cfg.VideoProvider,
		})
	}
	rules = append(rules, storage.RoutingRule{Name: "default", Provider: cfg.DefaultProvider})

	return storage.NewManager(storage.Config{
		MaxArtifactSize:     cfg.MaxArtifactSize,
		AllowedContentTypes: cfg.AllowedContentTypes,
		Rules:               rules,
	}, stores, logger)
}

// run claims pending generations and dispatches them to adapters, at most
// one claim per free slot.
func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w.slots <- struct{}{}:
		}

		gen, err := w.svc.ClaimNext(ctx)
		if err != nil {
			<-w.slots
			if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, context.Canceled) {
				w.logger.Error().Err(err).Msg("worker: claim failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}

		go func() {
			defer func() { <-w.slots }()
			w.process(ctx, gen)
		}()
	}
}

func (w *worker) process(ctx context.Context, gen *domain.Generation) {
	log := w.logger.With().
		Str("generation_id", gen.ID).
		Str("provider", gen.ProviderName).
		Logger()
	log.Info().Msg("worker: picked generation")

	adapter, err := w.registry.Lookup(gen.ProviderName)
	if err != nil {
		w.fail(ctx, gen, "provider not configured: "+gen.ProviderName)
		return
	}

	exec := w.svc.NewExecutionContext(gen, w.manager)
	res, err := adapter.Generate(ctx, exec)
	if err != nil {
		log.Error().Err(err).Msg("worker: generation failed")
		w.fail(ctx, gen, err.Error())
		return
	}

	err = w.svc.Complete(ctx, gen.TenantID, gen.ID, lifecycle.CompleteRequest{
		Primary:        res.Primary,
		Thumbnail:      res.Thumbnail,
		Additional:     res.Additional,
		OutputMetadata: res.OutputMetadata,
		ActualCost:     res.ActualCost,
	})
	if err != nil {
		log.Error().Err(err).Msg("worker: complete failed")
		return
	}
	log.Info().Str("actual_cost", res.ActualCost.String()).Msg("worker: generation completed")
}

func (w *worker) fail(ctx context.Context, gen *domain.Generation, reason string) {
	if err := w.svc.Fail(ctx, gen.TenantID, gen.ID, reason); err != nil {
		w.logger.Error().Err(err).
			Str("generation_id", gen.ID).
			Msg("worker: fail transition errored")
	}
}

// reap periodically fails generations stuck in processing past the deadline,
// covering workers that died mid-job.
func (w *worker) reap(ctx context.Context, deadline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := w.svc.ReapStale(ctx, deadline, 50)
			if err != nil {
				w.logger.Error().Err(err).Msg("worker: reap pass failed")
				continue
			}
			if reaped > 0 {
				w.logger.Warn().Int("count", reaped).Msg("worker: reaped stale generations")
			}
		}
	}
}
